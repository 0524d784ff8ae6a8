// Package chat implements the stateless conversation pipeline: intent
// classification, parameter extraction and validation, single-tool execution
// against the task repository, audit logging, and response assembly.
package chat

import "regexp"

// Intent is the classified purpose of a user message, from a closed set.
type Intent string

const (
	IntentGetPendingTasks   Intent = "get_pending_tasks"
	IntentGetAllTasks       Intent = "get_all_tasks"
	IntentCreateTask        Intent = "create_task"
	IntentGetCompletedTasks Intent = "get_completed_tasks"
	IntentUpdateTask        Intent = "update_task"
	IntentDeleteTask        Intent = "delete_task"
	IntentGreeting          Intent = "greeting"
	IntentHelp              Intent = "help"
	IntentGeneral           Intent = "general"
	IntentError             Intent = "error"
)

type intentPatterns struct {
	Intent   Intent
	Patterns []*regexp.Regexp
}

// classifierTable is an ordered table: slice order is the tie-break when two
// patterns score equally, so it must stay a slice, never a map.
var classifierTable = []intentPatterns{
	{IntentGetPendingTasks, compileAll(
		`(what are my|show my|list my|display my|view my).*pending.*tasks?`,
		`(what are my|show my|list my|display my|view my).*tasks?.*pending`,
		`pending.*tasks?`,
		`tasks?.*pending`,
		`what.*pending`,
		`show.*pending`,
		`list.*pending`,
	)},
	{IntentGetAllTasks, compileAll(
		`(what are my|show my|list my|display my|view my).*tasks?`,
		`all.*tasks?`,
		`list.*tasks?`,
		`show.*tasks?`,
		`view.*tasks?`,
		`display.*tasks?`,
	)},
	{IntentCreateTask, compileAll(
		`(create|make|add|new|start).*task.*to.*`,
		`task.*to.*`,
		`need to.*`,
		`want to.*`,
		`please.*`,
		`create.*`,
		`make.*`,
	)},
	{IntentGetCompletedTasks, compileAll(
		`(what are my|show my|list my|display my|view my).*completed.*tasks?`,
		`(what are my|show my|list my|display my|view my).*tasks?.*completed`,
		`completed.*tasks?`,
		`tasks?.*completed`,
		`done.*tasks?`,
		`finished.*tasks?`,
	)},
	{IntentUpdateTask, compileAll(
		`(update|change|modify|edit).*task`,
		`(update|change|modify|edit).*to.*`,
		`set.*to.*`,
		`mark.*as.*`,
	)},
	{IntentDeleteTask, compileAll(
		`(delete|remove|cancel|eliminate).*task`,
		`remove.*task`,
		`delete.*task`,
		`cancel.*task`,
	)},
	{IntentGreeting, compileAll(
		`hello`,
		`hi`,
		`hey`,
		`greetings`,
		`good morning`,
		`good afternoon`,
		`good evening`,
	)},
	{IntentHelp, compileAll(
		`help`,
		`assist`,
		`what can you do`,
		`how.*work`,
		`what.*do`,
	)},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(p)
	}
	return res
}

// toolName maps a tool-bearing intent to the tool recorded in the audit log.
// Intents answered from templates (greeting, help, general) carry no tool.
func toolName(intent Intent) string {
	switch intent {
	case IntentGetPendingTasks, IntentGetAllTasks, IntentGetCompletedTasks:
		return "list_tasks"
	case IntentCreateTask:
		return "create_task"
	case IntentUpdateTask:
		return "update_task"
	case IntentDeleteTask:
		return "delete_task"
	}
	return ""
}
