package acceptance

import (
	"context"
	"os"
	"testing"

	"github.com/cucumber/godog"
)

// TestFeatures runs all Gherkin acceptance tests
func TestFeatures(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping acceptance tests in short mode")
	}

	tags := os.Getenv("GODOG_TAGS")
	if tags == "" {
		tags = "~@wip"
	} else {
		tags = tags + "&&~@wip"
	}

	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Tags:     tags,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("acceptance tests failed")
	}
}

// TestSmokeFeatures runs only smoke tests (quick verification)
func TestSmokeFeatures(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping acceptance tests in short mode")
	}

	tags := os.Getenv("GODOG_TAGS")
	if tags == "" {
		tags = "@smoke&&~@wip"
	} else {
		tags = tags + "&&~@wip"
	}

	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Tags:     tags,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("smoke tests failed")
	}
}

// InitializeScenario sets up step definitions
func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &TestContext{
		ctx: context.Background(),
	}

	ctx.After(func(c context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		tc.cleanup()
		return c, nil
	})

	// Store lifecycle
	ctx.Step(`^an empty memory store$`, tc.emptyStore)
	ctx.Step(`^a memory at "([^"]*)" with body "([^"]*)"$`, tc.memoryAt)

	// Mutations
	ctx.Step(`^the agent creates "([^"]*)" with body "([^"]*)"$`, tc.agentCreates)
	ctx.Step(`^the agent appends "([^"]*)" to "([^"]*)"$`, tc.agentAppends)
	ctx.Step(`^the agent patches "([^"]*)" replacing "([^"]*)" with "([^"]*)"$`, tc.agentPatches)
	ctx.Step(`^the agent deletes "([^"]*)"$`, tc.agentDeletes)
	ctx.Step(`^the agent adds alias "([^"]*)" for "([^"]*)"$`, tc.agentAliases)
	ctx.Step(`^the mutation should fail$`, tc.mutationFailed)
	ctx.Step(`^the mutation should succeed$`, tc.mutationSucceeded)

	// Resolution and search
	ctx.Step(`^resolving "([^"]*)" should return body "([^"]*)"$`, tc.resolveReturnsBody)
	ctx.Step(`^resolving "([^"]*)" should fail$`, tc.resolveFails)
	ctx.Step(`^resolving "([^"]*)" should contain "([^"]*)"$`, tc.resolveContains)
	ctx.Step(`^searching for "([^"]*)" should find "([^"]*)"$`, tc.searchFinds)
	ctx.Step(`^searching for "([^"]*)" should find nothing$`, tc.searchFindsNothing)

	// Review and audit
	ctx.Step(`^the session should have (\d+) pending snapshots?$`, tc.pendingSnapshotCount)
	ctx.Step(`^the diff for "([^"]*)" should contain "([^"]*)"$`, tc.diffContains)
	ctx.Step(`^the reviewer approves the session$`, tc.reviewerApprovesSession)
	ctx.Step(`^the reviewer rolls back the last snapshot$`, tc.reviewerRollsBackLast)

	// Maintenance
	ctx.Step(`^the scan should report (\d+) unreachable content rows?$`, tc.scanReportsCount)
	ctx.Step(`^the scan should classify one row as "([^"]*)"$`, tc.scanClassifies)
	ctx.Step(`^purging the unreachable content without confirmation should fail$`, tc.purgeWithoutConfirmFails)
	ctx.Step(`^purging the unreachable content with confirmation should succeed$`, tc.purgeWithConfirmSucceeds)

	// MCP server
	ctx.Step(`^the MCP server is running$`, tc.mcpServerRunning)
	ctx.Step(`^I send an initialize request to the MCP server$`, tc.sendMCPInitialize)
	ctx.Step(`^the response should contain server name "([^"]*)"$`, tc.checkServerName)
	ctx.Step(`^I request the list of available MCP tools$`, tc.requestToolsList)
	ctx.Step(`^I should receive a list containing "([^"]*)"$`, tc.checkListContains)
}

// Step implementations are in steps.go
