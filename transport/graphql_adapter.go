package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhook-gateway/core"
)

const KindGraphQL = "graphql"

// GraphQLAdapter posts queries to a single GraphQL endpoint and unwraps the
// data member of the response.
type GraphQLAdapter struct {
	Endpoint string
	REST     *RESTAdapter
}

func NewGraphQLAdapter(endpoint string, token string, client HTTPDoer) *GraphQLAdapter {
	return &GraphQLAdapter{
		Endpoint: strings.TrimSpace(endpoint),
		REST:     NewRESTAdapter(client).WithBearerToken(token),
	}
}

type graphQLPayload struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

type graphQLEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

func (a *GraphQLAdapter) Request(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	if a == nil || a.REST == nil {
		return nil, transportError(
			"transport: graphql adapter requires a rest adapter",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"adapter": KindGraphQL},
		)
	}
	if a.Endpoint == "" {
		return nil, transportError(
			"transport: graphql endpoint is required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"adapter": KindGraphQL},
		)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, transportError(
			"transport: graphql query is required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"adapter": KindGraphQL, "endpoint": a.Endpoint},
		)
	}
	if variables == nil {
		variables = map[string]any{}
	}

	body, err := json.Marshal(graphQLPayload{
		Query:         query,
		OperationName: operationName(query),
		Variables:     variables,
	})
	if err != nil {
		return nil, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: marshal graphql payload",
			http.StatusBadRequest,
			map[string]any{"adapter": KindGraphQL, "endpoint": a.Endpoint},
		)
	}

	response, err := a.REST.Do(ctx, Request{
		Method:  http.MethodPost,
		URL:     a.Endpoint,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	})
	if err != nil {
		return nil, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: graphql request failed",
			http.StatusBadGateway,
			map[string]any{"adapter": KindGraphQL, "endpoint": a.Endpoint},
		)
	}
	if !response.OK() {
		return nil, statusError(KindGraphQL, response, map[string]any{"endpoint": a.Endpoint})
	}

	var envelope graphQLEnvelope
	if err := json.Unmarshal(response.Body, &envelope); err != nil {
		return nil, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: decode graphql response",
			http.StatusBadGateway,
			map[string]any{"adapter": KindGraphQL, "endpoint": a.Endpoint},
		)
	}
	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, item := range envelope.Errors {
			if message := strings.TrimSpace(item.Message); message != "" {
				messages = append(messages, message)
			}
		}
		return nil, transportError(
			"transport: graphql errors: "+strings.Join(messages, "; "),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{"adapter": KindGraphQL, "endpoint": a.Endpoint, "errors": messages},
		)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil, transportError(
			"transport: graphql response has no data",
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{"adapter": KindGraphQL, "endpoint": a.Endpoint},
		)
	}
	return envelope.Data, nil
}

// operationName returns the name after the leading query/mutation keyword.
func operationName(query string) string {
	fields := strings.Fields(query)
	if len(fields) < 2 {
		return ""
	}
	switch fields[0] {
	case "query", "mutation", "subscription":
	default:
		return ""
	}
	name := fields[1]
	if idx := strings.IndexAny(name, "({"); idx >= 0 {
		name = name[:idx]
	}
	return name
}

var _ core.GraphQLClient = (*GraphQLAdapter)(nil)
