package server

import (
	"net/http"

	gqlhandler "github.com/graphql-go/handler"

	gqlschema "privacyspace/internal/graphql"
	"privacyspace/internal/support"
)

// newGraphQLHandler serves the read-only registry schema. GRAPHQL_EXPLORER=true
// enables the in-browser explorer for GET requests.
func newGraphQLHandler(reg gqlschema.Registry) (http.Handler, error) {
	schema, err := gqlschema.NewSchema(reg)
	if err != nil {
		return nil, err
	}

	explorer := support.GetEnvBool("GRAPHQL_EXPLORER", false)
	return gqlhandler.New(&gqlhandler.Config{
		Schema:   &schema,
		Pretty:   explorer,
		GraphiQL: explorer,
	}), nil
}
