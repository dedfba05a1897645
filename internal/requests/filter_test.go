package requests

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/aldoetobex/weka-backend/pkg/models"
)

func TestFilterNormalize(t *testing.T) {
	cases := []struct {
		in        Filter
		wantLimit int
		wantOff   int
	}{
		{Filter{}, 10, 0},
		{Filter{Limit: 500}, 100, 0},
		{Filter{Limit: 25, Offset: -4}, 25, 0},
	}
	for _, tc := range cases {
		got := tc.in.Normalize()
		if got.Limit != tc.wantLimit || got.Offset != tc.wantOff {
			t.Errorf("Normalize(%+v) = %d/%d", tc.in, got.Limit, got.Offset)
		}
	}
}

func TestFilterConditions(t *testing.T) {
	caller := uuid.New()
	matched := models.RequestMatched
	cancelled := models.RequestCancelled

	cases := []struct {
		name string
		f    Filter
		want []string
	}{
		{"anonymous default", Filter{}, []string{"status = ?"}},
		{"caller default", Filter{Caller: &caller}, []string{"(status = ? OR matched_provider_id = ?)"}},
		{"matched needs caller", Filter{Status: &matched}, []string{"1 = 0"}},
		{"matched for caller", Filter{Status: &matched, Caller: &caller}, []string{"status = ? AND matched_provider_id = ?"}},
		{"cancelled is public", Filter{Status: &cancelled}, []string{"status = ?"}},
		{"text filters", Filter{Category: "Plumbing", Location: "Westlands"},
			[]string{"status = ?", "service_category = ?", `LOWER(customer_location) LIKE ? ESCAPE '\'`}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.f.Conditions()
			if len(got) != len(tc.want) {
				t.Fatalf("got %d conditions: %+v", len(got), got)
			}
			for i := range got {
				if got[i].SQL != tc.want[i] {
					t.Errorf("cond %d = %q, want %q", i, got[i].SQL, tc.want[i])
				}
			}
		})
	}
}

func TestFilterLocationIsLowercasedSubstring(t *testing.T) {
	conds := Filter{Location: "WestLands"}.Normalize().Conditions()
	last := conds[len(conds)-1]
	if arg, _ := last.Args[0].(string); arg != "%westlands%" || !strings.Contains(last.SQL, "LIKE") {
		t.Fatalf("unexpected: %+v", last)
	}
}
