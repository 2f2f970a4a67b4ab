// Package agent holds the issue-tracker side of the gateway: the Linear
// GraphQL client, the Issue/Assignment/Comment event handlers and the worker
// that drains deferred auto replies from the job queue.
package agent
