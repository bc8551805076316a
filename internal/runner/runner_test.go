package runner

import (
	"reflect"
	"testing"

	"brosync/internal/domain"
)

func TestOrderKinds(t *testing.T) {
	cases := []struct {
		name      string
		requested []domain.ObjectKind
		want      []domain.ObjectKind
	}{
		{
			name: "empty request runs every kind",
			want: domain.KindOrder,
		},
		{
			name:      "request is re-sorted parent before child",
			requested: []domain.ObjectKind{domain.KindGLD, domain.KindGMW},
			want:      []domain.ObjectKind{domain.KindGMW, domain.KindGLD},
		},
		{
			name:      "duplicates collapse",
			requested: []domain.ObjectKind{domain.KindGMN, domain.KindGMN, domain.KindFRD},
			want:      []domain.ObjectKind{domain.KindFRD, domain.KindGMN},
		},
		{
			name:      "unknown kind stays at the tail",
			requested: []domain.ObjectKind{"bogus", domain.KindGMW},
			want:      []domain.ObjectKind{domain.KindGMW, "bogus"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := orderKinds(tc.requested)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("orderKinds(%v) = %v, want %v", tc.requested, got, tc.want)
			}
		})
	}
}
