package file

import (
	"context"
	"sort"

	"github.com/pkg/errors"
)

// Enumerator lists the source units of one directory.
type Enumerator struct {
	Transport Transport
	Dir       string
	Filter    Filter
	// AvgRowBytes, when > 0, is used to estimate rows per unit from its size.
	AvgRowBytes int64
}

// Enumerate lists Dir once over a fresh connection and returns the matching
// files sorted by name, with ordinals assigned in that order. An empty result
// is not an error here.
func (e *Enumerator) Enumerate(ctx context.Context) ([]SourceUnit, error) {
	if e.Transport == nil {
		return nil, errors.New("enumerator has no transport")
	}
	conn, err := e.Transport.Connect(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "connect %v", e.Transport)
	}
	defer conn.Close()

	entries, err := conn.List(ctx, e.Dir)
	if err != nil {
		return nil, err
	}
	units := make([]SourceUnit, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		ok, err := e.Filter.Match(entry.Name)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid pattern %q", e.Filter.Pattern)
		}
		if !ok {
			continue
		}
		unit := SourceUnit{
			Name:   entry.Name,
			Path:   joinPath(e.Dir, entry.Name),
			Size:   entry.Size,
			Origin: e.Transport.String(),
		}
		if e.AvgRowBytes > 0 {
			unit.EstimatedRows = entry.Size / e.AvgRowBytes
			if unit.EstimatedRows == 0 && entry.Size > 0 {
				unit.EstimatedRows = 1
			}
		}
		units = append(units, unit)
	}
	sort.Slice(units, func(i, j int) bool {
		return units[i].Name < units[j].Name
	})
	for i := range units {
		units[i].Index = int64(i)
	}
	return units, nil
}

// Remaining drops the units for which skip reports true. Ordinals are kept.
func Remaining(units []SourceUnit, skip func(index int64) bool) []SourceUnit {
	result := make([]SourceUnit, 0, len(units))
	for _, u := range units {
		if skip != nil && skip(u.Index) {
			continue
		}
		result = append(result, u)
	}
	return result
}
