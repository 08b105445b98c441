package email

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/syncmesh/internal/conflict"
	"github.com/dropDatabas3/syncmesh/internal/conflictlink"
	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
	"github.com/dropDatabas3/syncmesh/internal/observability/logger"
)

// Notifier envía el aviso de conflicto con magic link a los operadores.
type Notifier struct {
	sender  Sender
	links   *conflictlink.Issuer
	tpl     *Templates
	baseURL string
	to      []string
	linkTTL time.Duration
}

func NewNotifier(sender Sender, links *conflictlink.Issuer, tpl *Templates,
	baseURL string, to []string, linkTTL time.Duration) *Notifier {
	return &Notifier{
		sender:  sender,
		links:   links,
		tpl:     tpl,
		baseURL: strings.TrimRight(baseURL, "/"),
		to:      to,
		linkTTL: linkTTL,
	}
}

// NotifyConflict emite un magic link con permiso de resolución y lo
// manda a cada operador configurado.
func (n *Notifier) NotifyConflict(_ context.Context, rec *repository.ConflictRecord) error {
	if len(n.to) == 0 {
		return nil
	}

	token, err := n.links.IssueLink(rec.ID, conflictlink.PurposeResolve)
	if err != nil {
		return fmt.Errorf("issuing conflict link: %w", err)
	}
	link := n.baseURL + "/v1/auth/magic/conflict?token=" + url.QueryEscape(token)

	vars := ConflictVars{
		ConflictID: rec.ID,
		Table:      rec.Table,
		RecordID:   rec.RecordID,
		Origin:     rec.Origin,
		Target:     rec.Target,
		Reason:     rec.Reason,
		Link:       link,
		TTL:        n.linkTTL.String(),
	}
	for _, d := range conflict.Diff(rec.SourceNew, rec.TargetData) {
		vars.Diff = append(vars.Diff, DiffRow{
			Field:  d.Field,
			Source: fmt.Sprintf("%v", d.Source),
			Target: fmt.Sprintf("%v", d.Target),
		})
	}

	var htmlBuf, txtBuf bytes.Buffer
	if err := n.tpl.ConflictHTML.Execute(&htmlBuf, vars); err != nil {
		return err
	}
	if err := n.tpl.ConflictTXT.Execute(&txtBuf, vars); err != nil {
		return err
	}

	subject := fmt.Sprintf("[syncmesh] Sync conflict: %s#%s", rec.Table, rec.RecordID)

	var firstErr error
	for _, to := range n.to {
		if err := n.sender.Send(to, subject, htmlBuf.String(), txtBuf.String()); err != nil {
			logger.Named("email").Warn("conflict notice failed",
				logger.String("to", to), logger.ConflictID(rec.ID), logger.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
