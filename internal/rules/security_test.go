package rules

import (
	"testing"

	"github.com/Veraticus/autopay/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestSecurityScore(t *testing.T) {
	tests := []struct {
		headers map[string][]string
		name    string
		want    int
	}{
		{name: "no headers", want: 0},
		{
			name: "all signals",
			headers: map[string][]string{
				"received-spf":               {"pass (google.com: domain designates 1.2.3.4)"},
				"authentication-results":     {"mx.google.com; dkim=pass header.i=@shop.com; spf=pass; dmarc=pass (p=NONE)"},
				"arc-authentication-results": {"i=1; mx.google.com; dkim=pass; spf=pass"},
				"x-spam-status":              {"No, score=-0.1 required=5.0"},
			},
			want: 7,
		},
		{
			name: "failures do not count",
			headers: map[string][]string{
				"received-spf":           {"softfail (domain does not designate)"},
				"authentication-results": {"spf=fail; dkim=none; dmarc=fail"},
				"x-spam-status":          {"Yes, score=9.3"},
			},
			want: 0,
		},
		{
			name: "signals across repeated headers",
			headers: map[string][]string{
				"authentication-results": {"relay; spf=neutral", "mx; SPF=PASS; DKIM=PASS"},
			},
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SecurityScore(model.InboundMessage{Headers: tt.headers})
			assert.Equal(t, tt.want, got)
		})
	}
}
