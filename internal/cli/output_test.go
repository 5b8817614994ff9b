package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEnvelope(t *testing.T, buf *bytes.Buffer) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	return env
}

func TestPrinter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	p := &Printer{Format: "json", Out: buf}

	require.NoError(t, p.Success(ScanResult{Handler: "sales", Target: "order_view", Rows: 3}))

	env := decodeEnvelope(t, buf)
	assert.Equal(t, "ok", env.Status)
	assert.Nil(t, env.Error)
	assert.Equal(t, "order_view", env.Data.(map[string]any)["target"])
}

func TestPrinter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	p := &Printer{Format: "json", Out: buf}

	details := map[string]string{"file": "views.cue", "line": "42"}
	require.NoError(t, p.Error("E301", "cross join between o and c", details))

	env := decodeEnvelope(t, buf)
	assert.Equal(t, "error", env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "E301", env.Error.Code)
	assert.Equal(t, "cross join between o and c", env.Error.Message)
	assert.NotNil(t, env.Error.Details)
}

func TestPrinter_Text(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		want    string
	}{
		{"quiet", false, "mvsync: E001: definitions failed to load\n"},
		{"verbose", true, "mvsync: E001: definitions failed to load\n  details: views.cue\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			p := &Printer{Format: "text", Out: buf, Verbose: tt.verbose}
			require.NoError(t, p.Error("E001", "definitions failed to load", "views.cue"))
			assert.Equal(t, tt.want, buf.String())
		})
	}

	buf := &bytes.Buffer{}
	require.NoError(t, (&Printer{Format: "text", Out: buf}).Success("2 target(s) refreshed"))
	assert.Equal(t, "2 target(s) refreshed\n", buf.String())
}

func TestPrinter_DebugfGoesToDiag(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}

	(&Printer{Out: out, Diag: diag}).Debugf("handler %s", "sales")
	assert.Empty(t, diag.String(), "quiet printers drop progress")

	(&Printer{Out: out, Diag: diag, Verbose: true}).Debugf("handler %s", "sales")
	assert.Equal(t, "handler sales\n", diag.String())
	assert.Empty(t, out.String())

	(&Printer{Out: out, Verbose: true}).Debugf("no diag")
	assert.Equal(t, "no diag\n", out.String())
}

func TestExitCodeOf(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCodeOf(nil))
	assert.Equal(t, ExitFailure, ExitCodeOf(errors.New("plain")))
	assert.Equal(t, ExitCommandError, ExitCodeOf(NewExitError(ExitCommandError, "bad flag")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "open store", errors.New("locked")))
	assert.Equal(t, ExitCommandError, ExitCodeOf(wrapped))
	assert.Equal(t, "outer: open store: locked", wrapped.Error())
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	NewLogger(buf, "json", false).Debug("hidden")
	NewLogger(buf, "json", false).Info("shown", "handler", "sales")
	assert.NotContains(t, buf.String(), "hidden")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "sales", record["handler"])

	buf.Reset()
	NewLogger(buf, "text", true).Debug("visible")
	assert.Contains(t, buf.String(), "level=DEBUG")
}
