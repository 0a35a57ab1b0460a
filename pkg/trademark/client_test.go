package trademark

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMatchCount(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		want      int64
		wantErr   bool
		wantQuota bool
	}{
		{
			name: "no registrations",
			body: `<response><header><resultCode>00</resultCode><resultMsg>NORMAL SERVICE.</resultMsg></header><body><items><TotalSearchCount>0</TotalSearchCount></items></body></response>`,
			want: 0,
		},
		{
			name: "registered mark",
			body: `<response><header><resultCode></resultCode></header><body><items><TotalSearchCount>3</TotalSearchCount></items></body></response>`,
			want: 3,
		},
		{
			name:      "quota exceeded",
			body:      `<response><header><resultCode>22</resultCode><resultMsg>LIMITED NUMBER OF SERVICE REQUESTS EXCEEDS ERROR.</resultMsg></header></response>`,
			wantQuota: true,
		},
		{
			name:    "other result code",
			body:    `<response><header><resultCode>30</resultCode><resultMsg>SERVICE KEY IS NOT REGISTERED ERROR.</resultMsg></header></response>`,
			wantErr: true,
		},
		{
			name:    "malformed xml",
			body:    `<response><header>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/trademarkNameMatchSearchInfo" {
					t.Errorf("path = %q", r.URL.Path)
				}
				q := r.URL.Query()
				if q.Get("trademarkNameMatch") != "mug" || q.Get("accessKey") != "key" || q.Get("refused") != "false" {
					t.Errorf("query = %v", q)
				}
				w.Header().Set("Content-Type", "application/xml")
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(srv.URL, "key", 0)
			defer c.Close()

			got, err := c.MatchCount(context.Background(), "mug")
			switch {
			case tt.wantQuota:
				if !errors.Is(err, ErrQuotaExceeded) {
					t.Fatalf("err = %v, want ErrQuotaExceeded", err)
				}
			case tt.wantErr:
				if err == nil || errors.Is(err, ErrQuotaExceeded) {
					t.Fatalf("err = %v, want non-quota error", err)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got != tt.want {
					t.Errorf("count = %d, want %d", got, tt.want)
				}
			}
		})
	}
}
