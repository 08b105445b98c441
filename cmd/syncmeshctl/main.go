package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type client struct {
	BaseURL   string
	APIKey    string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, body []byte) (int, []byte, error) {
	u := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, u, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("X-API-Key", c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	var (
		baseURL = envOr("SYNCMESH_URL", "http://localhost:8080")
		apiKey  = envOr("SYNCMESH_API_KEY", "")
		out     = envOr("SYNCMESH_OUT", "text")
		timeout = 30 * time.Second
	)

	root := &cobra.Command{
		Use:   "syncmeshctl",
		Short: "CLI admin para syncmesh",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				return fmt.Errorf("falta API key (flag --api-key o env SYNCMESH_API_KEY)")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&baseURL, "url", baseURL, "URL base de la API (env SYNCMESH_URL)")
	root.PersistentFlags().StringVar(&apiKey, "api-key", apiKey, "API key de admin (env SYNCMESH_API_KEY)")
	root.PersistentFlags().StringVar(&out, "out", out, "formato de salida: json|text")

	cl := func() *client {
		return &client{
			BaseURL:   baseURL,
			APIKey:    apiKey,
			OutFormat: out,
			HTTP:      &http.Client{Timeout: timeout},
		}
	}

	// ─── conflicts ───
	conflicts := &cobra.Command{Use: "conflicts", Short: "Cola de conflictos"}

	var (
		listResolved bool
		listTable    string
		listSource   string
		listTarget   string
		listPage     int
		listSize     int
	)
	conflictsList := &cobra.Command{
		Use:   "list",
		Short: "Listar conflictos",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if listResolved {
				q.Set("resolved", "true")
			}
			if listTable != "" {
				q.Set("table", listTable)
			}
			if listSource != "" {
				q.Set("source", listSource)
			}
			if listTarget != "" {
				q.Set("target", listTarget)
			}
			if listPage > 0 {
				q.Set("page", fmt.Sprint(listPage))
			}
			if listSize > 0 {
				q.Set("page_size", fmt.Sprint(listSize))
			}
			path := "/v1/sync/conflicts"
			if enc := q.Encode(); enc != "" {
				path += "?" + enc
			}
			c := cl()
			st, b, err := c.do(http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			c.print(st, b)
			return nil
		},
	}
	conflictsList.Flags().BoolVar(&listResolved, "resolved", false, "mostrar resueltos en vez de pendientes")
	conflictsList.Flags().StringVar(&listTable, "table", "", "filtrar por tabla")
	conflictsList.Flags().StringVar(&listSource, "source", "", "filtrar por réplica origen")
	conflictsList.Flags().StringVar(&listTarget, "target", "", "filtrar por réplica destino")
	conflictsList.Flags().IntVar(&listPage, "page", 0, "página")
	conflictsList.Flags().IntVar(&listSize, "page-size", 0, "tamaño de página")

	conflictsGet := &cobra.Command{
		Use:   "get <id>",
		Short: "Detalle de un conflicto con diff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cl()
			st, b, err := c.do(http.MethodGet, "/v1/sync/conflicts/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			c.print(st, b)
			return nil
		},
	}

	var (
		resStrategy string
		resNote     string
		resPayload  string
		resBy       string
	)
	conflictsResolve := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolver un conflicto",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"strategy":    resStrategy,
				"note":        resNote,
				"resolved_by": resBy,
			}
			if resPayload != "" {
				var p map[string]any
				if err := json.Unmarshal([]byte(resPayload), &p); err != nil {
					return fmt.Errorf("payload inválido: %w", err)
				}
				body["payload"] = p
			}
			b, _ := json.Marshal(body)
			c := cl()
			st, rb, err := c.do(http.MethodPut, "/v1/sync/conflicts/"+url.PathEscape(args[0])+"/resolve", b)
			if err != nil {
				return err
			}
			c.print(st, rb)
			return nil
		},
	}
	conflictsResolve.Flags().StringVar(&resStrategy, "strategy", "", "source | target | manual")
	conflictsResolve.Flags().StringVar(&resNote, "note", "", "nota de resolución")
	conflictsResolve.Flags().StringVar(&resPayload, "payload", "", "snapshot JSON (estrategia manual)")
	conflictsResolve.Flags().StringVar(&resBy, "by", "cli", "quién resuelve")
	_ = conflictsResolve.MarkFlagRequired("strategy")

	var (
		raTable    string
		raSource   string
		raTarget   string
		raStrategy string
		raNote     string
		raBy       string
	)
	conflictsResolveAll := &cobra.Command{
		Use:   "resolve-all",
		Short: "Resolver todos los pendientes con la misma estrategia",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _ := json.Marshal(map[string]any{
				"table":       raTable,
				"source":      raSource,
				"target":      raTarget,
				"strategy":    raStrategy,
				"note":        raNote,
				"resolved_by": raBy,
			})
			c := cl()
			st, rb, err := c.do(http.MethodPost, "/v1/sync/conflicts/resolve-all", b)
			if err != nil {
				return err
			}
			c.print(st, rb)
			return nil
		},
	}
	conflictsResolveAll.Flags().StringVar(&raTable, "table", "", "filtrar por tabla")
	conflictsResolveAll.Flags().StringVar(&raSource, "source", "", "filtrar por réplica origen")
	conflictsResolveAll.Flags().StringVar(&raTarget, "target", "", "filtrar por réplica target")
	conflictsResolveAll.Flags().StringVar(&raStrategy, "strategy", "", "source | target")
	conflictsResolveAll.Flags().StringVar(&raNote, "note", "", "nota de resolución")
	conflictsResolveAll.Flags().StringVar(&raBy, "by", "cli", "quién resuelve")
	_ = conflictsResolveAll.MarkFlagRequired("strategy")

	conflicts.AddCommand(conflictsList, conflictsGet, conflictsResolve, conflictsResolveAll)

	// ─── configs ───
	configs := &cobra.Command{Use: "configs", Short: "Flujos de replicación"}

	configsList := &cobra.Command{
		Use:   "list",
		Short: "Listar flujos",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cl()
			st, b, err := c.do(http.MethodGet, "/v1/sync/configs", nil)
			if err != nil {
				return err
			}
			c.print(st, b)
			return nil
		},
	}

	var (
		cfgTable    string
		cfgOrigin   string
		cfgTarget   string
		cfgMode     string
		cfgInterval int
		cfgDisabled bool
	)
	cfgBody := func() []byte {
		enabled := !cfgDisabled
		b, _ := json.Marshal(map[string]any{
			"table_name":       cfgTable,
			"origin":           cfgOrigin,
			"target":           cfgTarget,
			"mode":             cfgMode,
			"interval_seconds": cfgInterval,
			"enabled":          enabled,
		})
		return b
	}
	addCfgFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&cfgTable, "table", "", "tabla a replicar")
		cmd.Flags().StringVar(&cfgOrigin, "origin", "", "réplica origen")
		cmd.Flags().StringVar(&cfgTarget, "target", "", "réplica destino")
		cmd.Flags().StringVar(&cfgMode, "mode", "realtime", "realtime | scheduled")
		cmd.Flags().IntVar(&cfgInterval, "interval", 0, "segundos entre corridas (scheduled)")
		cmd.Flags().BoolVar(&cfgDisabled, "disabled", false, "crear deshabilitado")
		_ = cmd.MarkFlagRequired("table")
		_ = cmd.MarkFlagRequired("origin")
		_ = cmd.MarkFlagRequired("target")
	}

	configsCreate := &cobra.Command{
		Use:   "create",
		Short: "Crear un flujo",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cl()
			st, b, err := c.do(http.MethodPost, "/v1/sync/configs", cfgBody())
			if err != nil {
				return err
			}
			c.print(st, b)
			return nil
		},
	}
	addCfgFlags(configsCreate)

	configsUpdate := &cobra.Command{
		Use:   "update <id>",
		Short: "Actualizar un flujo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cl()
			st, b, err := c.do(http.MethodPut, "/v1/sync/configs/"+url.PathEscape(args[0]), cfgBody())
			if err != nil {
				return err
			}
			c.print(st, b)
			return nil
		},
	}
	addCfgFlags(configsUpdate)

	configsDelete := &cobra.Command{
		Use:   "delete <id>",
		Short: "Borrar un flujo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cl()
			st, b, err := c.do(http.MethodDelete, "/v1/sync/configs/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			c.print(st, b)
			return nil
		},
	}

	configs.AddCommand(configsList, configsCreate, configsUpdate, configsDelete)

	// ─── status / logs / run ───
	status := &cobra.Command{
		Use:   "status",
		Short: "Estado del motor: flujos, cursores, conflictos, stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cl()
			st, b, err := c.do(http.MethodGet, "/v1/sync/status", nil)
			if err != nil {
				return err
			}
			c.print(st, b)
			return nil
		},
	}

	var (
		logsEdge   string
		logsTable  string
		logsStatus string
		logsLimit  int
		logsOffset int
	)
	logs := &cobra.Command{
		Use:   "logs",
		Short: "Inspeccionar el sync_log de un edge",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if logsEdge != "" {
				q.Set("edge", logsEdge)
			}
			if logsTable != "" {
				q.Set("table", logsTable)
			}
			if logsStatus != "" {
				q.Set("status", logsStatus)
			}
			if logsLimit > 0 {
				q.Set("limit", fmt.Sprint(logsLimit))
			}
			if logsOffset > 0 {
				q.Set("offset", fmt.Sprint(logsOffset))
			}
			path := "/v1/sync/logs"
			if enc := q.Encode(); enc != "" {
				path += "?" + enc
			}
			c := cl()
			st, b, err := c.do(http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			c.print(st, b)
			return nil
		},
	}
	logs.Flags().StringVar(&logsEdge, "edge", "", "réplica edge")
	logs.Flags().StringVar(&logsTable, "table", "", "filtrar por tabla")
	logs.Flags().StringVar(&logsStatus, "status", "", "pending | applied | failed")
	logs.Flags().IntVar(&logsLimit, "limit", 0, "máximo de entradas")
	logs.Flags().IntVar(&logsOffset, "offset", 0, "offset de paginación")

	run := &cobra.Command{
		Use:   "run",
		Short: "Disparar una pasada de sincronización ya",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cl()
			st, b, err := c.do(http.MethodPost, "/v1/sync/run", nil)
			if err != nil {
				return err
			}
			c.print(st, b)
			return nil
		},
	}

	root.AddCommand(conflicts, configs, status, logs, run)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
