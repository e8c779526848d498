package quadgrid

import (
	"testing"

	"github.com/mohammed-shakir/dggs-query/internal/filter"
)

func fmtFilter(t *testing.T, f filter.Filter) string {
	t.Helper()
	s, err := filter.ECQL(f)
	if err != nil {
		t.Fatalf("ECQL: %v", err)
	}
	return s
}
