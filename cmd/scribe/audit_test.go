package main

import (
	"strings"
	"testing"

	"scribe/internal/applyengine"
	"scribe/internal/audittrail"
)

func TestAuditResponseFormatHuman(t *testing.T) {
	resp := auditResponse{Events: []audittrail.Event{
		{
			TransactionID: "tx-1",
			Status:        applyengine.StatusCommitted,
			Files:         []applyengine.FileResult{{URI: "main.go"}},
			Description:   "rename symbol",
		},
	}}
	out := resp.FormatHuman()
	for _, want := range []string{"tx-1", "committed", "1 file(s)", "rename symbol"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatHuman() missing %q in:\n%s", want, out)
		}
	}
}
