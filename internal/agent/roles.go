package agent

import (
	"github.com/mgx-platform/agentcore/internal/model"
	"github.com/mgx-platform/agentcore/internal/telemetry"
	"github.com/mgx-platform/agentcore/internal/tools"
)

// Role identifies one of the six fixed roles of a team, per §4.4/§4.6.
type Role string

const (
	RoleBoss           Role = "boss"
	RoleProductManager Role = "product_manager"
	RoleArchitect      Role = "architect"
	RoleProjectManager Role = "project_manager"
	RoleEngineer       Role = "engineer"
	RoleQA             Role = "qa"
)

const (
	bossPrompt = `You are the Boss of a software delivery team. Distill the user's raw
request into a crisp, unambiguous set of requirements and write it to the
workspace as requirements.md using write_file. Do not design or implement
anything yourself; hand off to the Product Manager once the requirements are
clear. Record your routing decision with the workflow_decision tool.`

	productManagerPrompt = `You are the Product Manager. Turn the Boss's requirements into a PRD:
goals, user stories, and acceptance criteria. Write it to the workspace as
prd.md using write_file. Record your routing decision with the
workflow_decision tool.`

	architectPrompt = `You are the Architect. Turn the PRD into a design document: components,
data model, APIs, and key technical decisions. Write it to the workspace as
design.md using write_file. Record your routing decision with the
workflow_decision tool.`

	projectManagerPrompt = `You are the Project Manager. Break the design document into an ordered
task list the Engineer can execute incrementally. Write it to the workspace
as tasks.md using write_file. Record your routing decision with the
workflow_decision tool.`

	engineerPrompt = `You are the Engineer. Implement the current task using the workspace file
tools and, when the task requires a running application, the dev-server
tools. Keep changes scoped to the current task. Record your routing decision
with the workflow_decision tool.`

	qaPrompt = `You are QA. Write and run tests against the Engineer's changes, observe the
dev server when relevant, and report pass/fail with specifics in the
workspace as test_report.md using write_file. Record your routing decision
with the workflow_decision tool.`
)

// roleToolGroups maps each role to the tool groups bound to it as its
// tool_subset, per §4.4. Every role additionally has the workflow tool group
// for the workflow_decision sentinel, added by NewTeam.
var roleToolGroups = map[Role][]tools.Group{
	RoleBoss:           {tools.GroupWorkspace},
	RoleProductManager: {tools.GroupWorkspace},
	RoleArchitect:      {tools.GroupWorkspace},
	RoleProjectManager: {tools.GroupWorkspace},
	RoleEngineer:       {tools.GroupWorkspace, tools.GroupContainerExec, tools.GroupDevServer},
	RoleQA:             {tools.GroupWorkspace, tools.GroupContainerExec, tools.GroupDevServer},
}

var rolePrompts = map[Role]string{
	RoleBoss:           bossPrompt,
	RoleProductManager: productManagerPrompt,
	RoleArchitect:      architectPrompt,
	RoleProjectManager: projectManagerPrompt,
	RoleEngineer:       engineerPrompt,
	RoleQA:             qaPrompt,
}

// Team is the fixed set of six role-specialized agents bound to one run's
// model client, tool registry, and middleware chain.
type Team struct {
	Agents map[Role]*Agent
}

// NewTeam constructs the six role agents sharing the given model client and
// tool registry. maxIterations bounds every agent's invoke loop.
func NewTeam(client model.Client, registry *tools.Registry, maxIterations int, middlewares []Middleware, log telemetry.Logger) *Team {
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	t := &Team{Agents: make(map[Role]*Agent, len(rolePrompts))}
	for role, prompt := range rolePrompts {
		groups := append([]tools.Group{tools.GroupWorkflow}, roleToolGroups[role]...)
		t.Agents[role] = &Agent{
			Name:          string(role),
			SystemPrompt:  prompt,
			Client:        client,
			Tools:         registry,
			ToolGroups:    groups,
			MaxIterations: maxIterations,
			Middlewares:   middlewares,
			Log:           log,
		}
	}
	return t
}
