package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

const payloadJSON = `{
  "scheme": "exact",
  "network": "eip155:8453",
  "transactionHash": "0x3c9bd0b3b0dbe6f8a4ab0f0502a4a5a1d78016c0f9dc83fa156bd3e24cecb4fd",
  "payerWallet": "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
}`

const requirementJSON = `{
  "scheme": "exact",
  "network": "eip155:8453",
  "payTo": "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
  "asset": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
  "maxAmountRequired": "10000"
}`

// runCommand executes the CLI with args and captures its output.
func runCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// facilitatorServer answers one endpoint with a fixed JSON body.
func facilitatorServer(t *testing.T, path, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func exitCodeOf(t *testing.T, err error) int {
	t.Helper()
	require.Error(t, err)
	return GetExitCode(err)
}
