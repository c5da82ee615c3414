package acceptance

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mnemohq/engram/internal/memory"
)

var testServerCmd *exec.Cmd
var testServerStdin io.WriteCloser
var testServerReader *bufio.Reader

// TestContext holds state between steps
type TestContext struct {
	ctx          context.Context
	store        *memory.Store
	dataDir      string
	session      string
	lastErr      error
	lastSnapshot string
	lastResponse map[string]interface{}
}

func (tc *TestContext) cleanup() {
	if tc.store != nil {
		tc.store.Close()
		tc.store = nil
	}
	if tc.dataDir != "" {
		os.RemoveAll(tc.dataDir)
		tc.dataDir = ""
	}
}

func (tc *TestContext) openStore() error {
	if tc.store != nil {
		return nil
	}
	dir, err := os.MkdirTemp("", "engram-acceptance-*")
	if err != nil {
		return err
	}
	store, err := memory.NewStore(memory.Options{
		DataDir:  dir,
		Domains:  []string{"core", "projects", "journal"},
		BootURIs: []string{"core://identity"},
	})
	if err != nil {
		return err
	}
	tc.store = store
	tc.dataDir = dir
	tc.session = "acceptance_session"
	return nil
}

func (tc *TestContext) emptyStore() error {
	tc.cleanup()
	return tc.openStore()
}

func (tc *TestContext) memoryAt(uri, body string) error {
	if err := tc.openStore(); err != nil {
		return err
	}
	parsed, err := memory.ParseURI(uri)
	if err != nil {
		return err
	}
	_, err = tc.store.Create(tc.ctx, "seed_session", parsed.Domain, parsed.Path, body, 100, "")
	if err != nil {
		return err
	}
	// Seed data is pre-approved; only agent mutations stay pending.
	_, err = tc.store.ApproveSession(tc.ctx, "seed_session")
	return err
}

func (tc *TestContext) agentCreates(uri, body string) error {
	if err := tc.openStore(); err != nil {
		return err
	}
	parsed, err := memory.ParseURI(uri)
	if err != nil {
		tc.lastErr = err
		return nil
	}
	_, tc.lastErr = tc.store.Create(tc.ctx, tc.session, parsed.Domain, parsed.Path, body, 100, "")
	return nil
}

func (tc *TestContext) agentAppends(text, uri string) error {
	if err := tc.openStore(); err != nil {
		return err
	}
	_, tc.lastErr = tc.store.Update(tc.ctx, tc.session, uri, memory.UpdateRequest{
		Mode: memory.ModeAppend,
		New:  text,
	})
	return nil
}

func (tc *TestContext) agentPatches(uri, old, new string) error {
	if err := tc.openStore(); err != nil {
		return err
	}
	_, tc.lastErr = tc.store.Update(tc.ctx, tc.session, uri, memory.UpdateRequest{
		Mode: memory.ModePatch,
		Old:  old,
		New:  new,
	})
	return nil
}

func (tc *TestContext) agentDeletes(uri string) error {
	if err := tc.openStore(); err != nil {
		return err
	}
	tc.lastErr = tc.store.Delete(tc.ctx, tc.session, uri)
	return nil
}

func (tc *TestContext) agentAliases(alias, source string) error {
	if err := tc.openStore(); err != nil {
		return err
	}
	parsed, err := memory.ParseURI(alias)
	if err != nil {
		tc.lastErr = err
		return nil
	}
	_, tc.lastErr = tc.store.AddAlias(tc.ctx, tc.session, source, parsed.Domain, parsed.Path, 100, "")
	return nil
}

func (tc *TestContext) mutationFailed() error {
	if tc.lastErr == nil {
		return fmt.Errorf("expected the mutation to fail, it succeeded")
	}
	tc.lastErr = nil
	return nil
}

func (tc *TestContext) mutationSucceeded() error {
	if tc.lastErr != nil {
		return fmt.Errorf("expected the mutation to succeed: %w", tc.lastErr)
	}
	return nil
}

func (tc *TestContext) resolveReturnsBody(uri, body string) error {
	body = strings.ReplaceAll(body, `\n`, "\n")
	node, err := tc.store.Resolve(tc.ctx, uri)
	if err != nil {
		return err
	}
	if node.Body != body {
		return fmt.Errorf("resolved body %q, want %q", node.Body, body)
	}
	return nil
}

func (tc *TestContext) resolveFails(uri string) error {
	if _, err := tc.store.Resolve(tc.ctx, uri); err == nil {
		return fmt.Errorf("expected resolving %s to fail", uri)
	}
	return nil
}

func (tc *TestContext) resolveContains(uri, fragment string) error {
	node, err := tc.store.Resolve(tc.ctx, uri)
	if err != nil {
		return err
	}
	if !strings.Contains(node.Body, fragment) {
		return fmt.Errorf("resolved body of %s does not contain %q:\n%s", uri, fragment, node.Body)
	}
	return nil
}

func (tc *TestContext) searchFinds(keyword, uri string) error {
	results, err := tc.store.Search(tc.ctx, keyword)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.URI == uri {
			return nil
		}
	}
	return fmt.Errorf("search %q did not return %s (%d results)", keyword, uri, len(results))
}

func (tc *TestContext) searchFindsNothing(keyword string) error {
	results, err := tc.store.Search(tc.ctx, keyword)
	if err != nil {
		return err
	}
	if len(results) != 0 {
		return fmt.Errorf("search %q returned %d results, want none", keyword, len(results))
	}
	return nil
}

func (tc *TestContext) pendingSnapshotCount(count int) error {
	snaps, err := tc.store.ListSessionSnapshots(tc.ctx, tc.session)
	if err != nil {
		return err
	}
	if len(snaps) != count {
		return fmt.Errorf("session has %d pending snapshots, want %d", len(snaps), count)
	}
	if len(snaps) > 0 {
		tc.lastSnapshot = snaps[len(snaps)-1].ID
	}
	return nil
}

func (tc *TestContext) diffContains(uri, fragment string) error {
	diff, err := tc.store.DiffResource(tc.ctx, tc.session, uri)
	if err != nil {
		return err
	}
	if !strings.Contains(diff.UnifiedDiff, fragment) && !strings.Contains(diff.Summary, fragment) {
		return fmt.Errorf("diff for %s does not contain %q:\n%s\n%s", uri, fragment, diff.Summary, diff.UnifiedDiff)
	}
	return nil
}

func (tc *TestContext) reviewerApprovesSession() error {
	_, err := tc.store.ApproveSession(tc.ctx, tc.session)
	return err
}

func (tc *TestContext) reviewerRollsBackLast() error {
	snaps, err := tc.store.ListSessionSnapshots(tc.ctx, tc.session)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		return fmt.Errorf("no pending snapshots to roll back")
	}
	return tc.store.Rollback(tc.ctx, snaps[len(snaps)-1].ID)
}

func (tc *TestContext) scanReportsCount(count int) error {
	unreachable, err := tc.store.ClassifyUnreachable(tc.ctx)
	if err != nil {
		return err
	}
	if len(unreachable) != count {
		return fmt.Errorf("scan found %d unreachable rows, want %d", len(unreachable), count)
	}
	return nil
}

func (tc *TestContext) scanClassifies(kind string) error {
	unreachable, err := tc.store.ClassifyUnreachable(tc.ctx)
	if err != nil {
		return err
	}
	for _, u := range unreachable {
		if u.Kind == kind {
			return nil
		}
	}
	return fmt.Errorf("no unreachable row classified as %q", kind)
}

func (tc *TestContext) purgeWithoutConfirmFails() error {
	ids, err := tc.unreachableIDs()
	if err != nil {
		return err
	}
	if err := tc.store.Purge(tc.ctx, ids, false); err == nil {
		return fmt.Errorf("purge without confirmation should fail")
	}
	return nil
}

func (tc *TestContext) purgeWithConfirmSucceeds() error {
	ids, err := tc.unreachableIDs()
	if err != nil {
		return err
	}
	return tc.store.Purge(tc.ctx, ids, true)
}

func (tc *TestContext) unreachableIDs() ([]string, error) {
	unreachable, err := tc.store.ClassifyUnreachable(tc.ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(unreachable))
	for _, u := range unreachable {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

// setupTestServer starts the engram binary for the MCP steps
func setupTestServer() error {
	if testServerCmd != nil {
		return nil // Already running
	}

	binaryPath := os.Getenv("ENGRAM_TEST_BINARY")
	if binaryPath == "" {
		if _, err := os.Stat("./engram"); err == nil {
			binaryPath = "./engram"
		} else {
			cmd := exec.Command("go", "build", "-o", "/tmp/engram-test", ".")
			cmd.Dir = filepath.Join("..", "..")
			if err := cmd.Run(); err != nil {
				return fmt.Errorf("failed to build test binary: %w", err)
			}
			binaryPath = "/tmp/engram-test"
		}
	}

	tmpDir, err := os.MkdirTemp("", "engram-mcp-test-*")
	if err != nil {
		return err
	}

	cmd := exec.Command(binaryPath, "serve")
	cmd.Env = append(os.Environ(), "ENGRAM_DATA_DIR="+tmpDir)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	testServerCmd = cmd
	testServerStdin = stdin
	testServerReader = bufio.NewReader(stdout)
	return nil
}

func sendServerRequest(req map[string]interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := testServerStdin.Write(append(data, '\n')); err != nil {
		return nil, err
	}

	line, err := testServerReader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("empty response")
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp, nil
}

func (tc *TestContext) mcpServerRunning() error {
	return setupTestServer()
}

func (tc *TestContext) sendMCPInitialize() error {
	if err := setupTestServer(); err != nil {
		return err
	}
	resp, err := sendServerRequest(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params":  map[string]interface{}{},
	})
	if err != nil {
		return err
	}
	tc.lastResponse = resp
	return nil
}

func (tc *TestContext) checkServerName(name string) error {
	result, ok := tc.lastResponse["result"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("no result in response: %v", tc.lastResponse)
	}
	info, ok := result["serverInfo"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("no serverInfo in response: %v", result)
	}
	if info["name"] != name {
		return fmt.Errorf("server name %v, want %s", info["name"], name)
	}
	return nil
}

func (tc *TestContext) requestToolsList() error {
	if err := setupTestServer(); err != nil {
		return err
	}
	resp, err := sendServerRequest(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
	})
	if err != nil {
		return err
	}
	tc.lastResponse = resp
	return nil
}

func (tc *TestContext) checkListContains(name string) error {
	result, ok := tc.lastResponse["result"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("no result in response: %v", tc.lastResponse)
	}
	raw, _ := json.Marshal(result)
	if !bytes.Contains(raw, []byte(name)) {
		return fmt.Errorf("list does not contain %q: %s", name, raw)
	}
	return nil
}
