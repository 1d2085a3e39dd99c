// Package api serves the transfer controller over GraphQL.
package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/graphql-go/graphql"
	"go.uber.org/zap"
)

type GraphQLRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// NewHandler returns the GraphQL endpoint backed by r.
func NewHandler(r *Resolver) (http.Handler, error) {
	if r.Log == nil {
		r.Log = zap.NewNop()
	}
	schema, err := createSchema(r)
	if err != nil {
		return nil, err
	}

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusOK)
			return
		}
		if req.Method != http.MethodPost {
			http.Error(w, "POST a GraphQL request", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")

		body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
		if err != nil {
			http.Error(w, "Error reading request body", http.StatusBadRequest)
			return
		}

		var gq GraphQLRequest
		if err := json.Unmarshal(body, &gq); err != nil {
			http.Error(w, "Error parsing request body", http.StatusBadRequest)
			return
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  gq.Query,
			VariableValues: gq.Variables,
			OperationName:  gq.OperationName,
			Context:        req.Context(),
		})
		if result.HasErrors() {
			r.Log.Debug("GraphQL errors", zap.Any("errors", result.Errors))
		}
		if err := json.NewEncoder(w).Encode(result); err != nil {
			r.Log.Warn("Write GraphQL response", zap.Error(err))
		}
	}), nil
}

func createSchema(resolver *Resolver) (graphql.Schema, error) {
	walletType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Wallet",
		Fields: graphql.Fields{
			"address": &graphql.Field{Type: graphql.String},
			"balance": &graphql.Field{Type: graphql.String},
			"free":    &graphql.Field{Type: graphql.String},
			"nonce":   &graphql.Field{Type: graphql.Int},
		},
	})

	transferResultType := graphql.NewObject(graphql.ObjectConfig{
		Name: "TransferResult",
		Fields: graphql.Fields{
			"id":     &graphql.Field{Type: graphql.String},
			"status": &graphql.Field{Type: graphql.String},
			"block":  &graphql.Field{Type: graphql.String},
			"amount": &graphql.Field{Type: graphql.String},
		},
	})

	transferRecordType := graphql.NewObject(graphql.ObjectConfig{
		Name: "TransferRecord",
		Fields: graphql.Fields{
			"id":         &graphql.Field{Type: graphql.String},
			"sender":     &graphql.Field{Type: graphql.String},
			"receiver":   &graphql.Field{Type: graphql.String},
			"amount":     &graphql.Field{Type: graphql.String},
			"status":     &graphql.Field{Type: graphql.String},
			"block":      &graphql.Field{Type: graphql.String},
			"error":      &graphql.Field{Type: graphql.String},
			"created_at": &graphql.Field{Type: graphql.String},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"wallet": &graphql.Field{
				Type: walletType,
				Args: graphql.FieldConfigArgument{
					"address": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(graphql.String),
					},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					address := p.Args["address"].(string)
					return resolver.GetWallet(p.Context, address)
				},
			},
			"transfers": &graphql.Field{
				Type: graphql.NewList(transferRecordType),
				Args: graphql.FieldConfigArgument{
					"sender": &graphql.ArgumentConfig{
						Type:         graphql.String,
						DefaultValue: "",
					},
					"limit": &graphql.ArgumentConfig{
						Type:         graphql.Int,
						DefaultValue: 20,
					},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sender, _ := p.Args["sender"].(string)
					limit, _ := p.Args["limit"].(int)
					return resolver.TransferHistory(p.Context, sender, limit)
				},
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"transfer": &graphql.Field{
				Type: transferResultType,
				Args: graphql.FieldConfigArgument{
					"from_address": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(graphql.String),
					},
					"to_address": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(graphql.String),
					},
					"amount": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(graphql.String),
					},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					args := TransferArgs{
						FromAddress: p.Args["from_address"].(string),
						ToAddress:   p.Args["to_address"].(string),
						Amount:      p.Args["amount"].(string),
					}
					return resolver.Transfer(p.Context, args)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationType,
	})
}
