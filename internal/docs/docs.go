// Package docs registers the hand-maintained OpenAPI description of the
// FrontEnd route table with swag's runtime registry, the same shape
// `swag init` would generate, so http-swagger can serve it without a
// code-generation step in this build.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Privacy Budget Service",
        "description": "Enforces per-key, per-hour privacy budgets across a fleet of reporting origins.",
        "version": "1.0"
    },
    "basePath": "/v1",
    "paths": {
        "/service:status": {
            "get": {
                "summary": "Liveness probe",
                "responses": { "200": { "description": "OK" } }
            }
        },
        "/transactions:prepare": {
            "post": {
                "summary": "Parse and commit a consume-budget transaction",
                "parameters": [
                    { "name": "x-gscp-claimed-identity", "in": "header", "type": "string" },
                    { "name": "x-gscp-transaction-id", "in": "header", "type": "string" },
                    { "name": "x-gscp-transaction-origin", "in": "header", "type": "string" }
                ],
                "responses": {
                    "204": { "description": "budget consumed" },
                    "400": { "description": "invalid request" },
                    "409": { "description": "budget exhausted or transaction already processed" },
                    "429": { "description": "rate limited" }
                }
            }
        },
        "/transactions:status": {
            "get": {
                "summary": "Always 404: transactions are not long-lived",
                "responses": { "404": { "description": "not found" } }
            }
        }
    }
}`

// SwaggerInfo holds the metadata http-swagger renders alongside the spec.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/v1",
	Schemes:          []string{},
	Title:            "Privacy Budget Service",
	Description:      "Enforces per-key, per-hour privacy budgets across a fleet of reporting origins.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
