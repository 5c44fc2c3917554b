package adapters

import (
	"context"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/machinebox/graphql"
)

const defaultHTTPTimeout = 20 * time.Second

// graphQLClient runs queries against a single GraphQL endpoint.
type graphQLClient struct {
	endpoint string
	client   *graphql.Client
}

func newGraphQLClient(endpoint string, httpClient *nethttp.Client) *graphQLClient {
	if httpClient == nil {
		httpClient = &nethttp.Client{Timeout: defaultHTTPTimeout}
	}
	return &graphQLClient{
		endpoint: endpoint,
		client:   graphql.NewClient(endpoint, graphql.WithHTTPClient(httpClient)),
	}
}

// query runs q with variables and decodes the "data" field into out. The
// first entry of a GraphQL "errors" array is returned as the error.
func (c *graphQLClient) query(ctx context.Context, q string, variables map[string]interface{}, out interface{}) error {
	req := graphql.NewRequest(q)
	for name, value := range variables {
		req.Var(name, value)
	}
	if err := c.client.Run(ctx, req, out); err != nil {
		return fmt.Errorf("query %s: %w", c.endpoint, err)
	}
	return nil
}
