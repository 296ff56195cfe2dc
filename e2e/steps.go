package e2e

import (
	"github.com/cucumber/godog"

	"tokenbank/e2e/steps/custody"
)

// RegisterSteps registers all step definitions from the step packages.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	custody.RegisterSteps(ctx, tc)
}
