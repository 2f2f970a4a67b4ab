// Package transport implements the outbound collaborators: a GraphQL client
// for the issue tracker and a chat completion client, both on a shared REST
// executor.
package transport
