// Package vclock implementa los relojes vectoriales por fila que usa el
// motor de sincronización para distinguir escrituras causalmente ordenadas
// de escrituras concurrentes.
//
// Cada réplica tiene un código corto (ej: "H", "N", "S") y solo incrementa
// su propia componente en escrituras locales genuinas. El worker hace merge
// (join, máximo componente a componente) al aplicar cambios replicados.
package vclock

import (
	"encoding/json"
	"sort"
	"strings"
)

// Clock mapea código de réplica -> contador monotónico.
// La componente ausente se lee como 0.
type Clock map[string]int64

// Ordering es el resultado de comparar dos clocks.
type Ordering int

const (
	// Equal: mismos valores en todas las componentes.
	Equal Ordering = iota
	// Dominates: a >= b en todo, con al menos una componente estricta.
	Dominates
	// Dominated: b domina a a.
	Dominated
	// Concurrent: ninguno domina al otro (candidato a conflicto).
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Dominates:
		return "dominates"
	case Dominated:
		return "dominated"
	default:
		return "concurrent"
	}
}

// Parse acepta las formas en que un clock llega desde storage: JSON como
// string/[]byte, un map ya decodificado, o nil. Nunca falla: entradas
// inválidas se tratan como clock vacío (todo en 0), igual que el origen
// trataba un v_clock corrupto.
func Parse(v any) Clock {
	switch t := v.(type) {
	case nil:
		return Clock{}
	case Clock:
		return t.Clone()
	case map[string]int64:
		return Clock(t).Clone()
	case map[string]any:
		out := Clock{}
		for k, raw := range t {
			switch n := raw.(type) {
			case float64:
				out[k] = int64(n)
			case int64:
				out[k] = n
			case int:
				out[k] = int64(n)
			case json.Number:
				if i, err := n.Int64(); err == nil {
					out[k] = i
				}
			}
		}
		return out
	case []byte:
		return parseJSON(t)
	case string:
		return parseJSON([]byte(t))
	default:
		return Clock{}
	}
}

func parseJSON(b []byte) Clock {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return Clock{}
	}
	var m map[string]int64
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return Clock{}
	}
	out := Clock{}
	for k, v := range m {
		if v < 0 {
			v = 0
		}
		out[k] = v
	}
	return out
}

// Get devuelve la componente code (0 si falta).
func (c Clock) Get(code string) int64 {
	if c == nil {
		return 0
	}
	return c[code]
}

// Clone devuelve una copia independiente.
func (c Clock) Clone() Clock {
	out := make(Clock, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Bump devuelve una copia con la componente code incrementada en 1.
// El receptor no se modifica.
func (c Clock) Bump(code string) Clock {
	out := c.Clone()
	out[code] = out[code] + 1
	return out
}

// Merge devuelve el join de ambos clocks: máximo componente a componente.
func (c Clock) Merge(other Clock) Clock {
	out := c.Clone()
	for k, v := range other {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

// Compare clasifica la relación causal entre c y other.
// La comparación es simétrica: Compare(a,b)==Concurrent ⇔ Compare(b,a)==Concurrent.
func (c Clock) Compare(other Clock) Ordering {
	keys := map[string]struct{}{}
	for k := range c {
		keys[k] = struct{}{}
	}
	for k := range other {
		keys[k] = struct{}{}
	}

	var less, greater bool
	for k := range keys {
		a, b := c.Get(k), other.Get(k)
		switch {
		case a < b:
			less = true
		case a > b:
			greater = true
		}
	}

	switch {
	case !less && !greater:
		return Equal
	case greater && !less:
		return Dominates
	case less && !greater:
		return Dominated
	default:
		return Concurrent
	}
}

// DominatesOrEqual es el predicado que autoriza un apply directo:
// el clock entrante no puede ser más viejo que el del target.
func (c Clock) DominatesOrEqual(other Clock) bool {
	ord := c.Compare(other)
	return ord == Dominates || ord == Equal
}

// String serializa el clock como JSON canónico (keys ordenadas), apto para
// guardarse en la columna v_clock y para comparaciones estables en tests.
func (c Clock) String() string {
	if len(c) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		sb.Write(kb)
		sb.WriteByte(':')
		vb, _ := json.Marshal(c[k])
		sb.Write(vb)
	}
	sb.WriteByte('}')
	return sb.String()
}

// MarshalJSON usa la forma canónica de String.
func (c Clock) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalJSON decodifica un objeto JSON {code: counter}.
func (c *Clock) UnmarshalJSON(b []byte) error {
	var m map[string]int64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*c = Clock(m)
	return nil
}
