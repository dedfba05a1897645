// Package docs registers the OpenAPI document served under /swagger.
// Regenerate from the handler annotations with:
//
//	swag init -g cmd/server/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/signup": {"post": {"tags": ["auth"], "summary": "Create a customer or provider account", "responses": {"201": {"description": "Created"}, "400": {"description": "Validation failed"}, "409": {"description": "Email taken"}}}},
        "/login": {"post": {"tags": ["auth"], "summary": "Exchange credentials for a token", "responses": {"200": {"description": "OK"}, "401": {"description": "Invalid credentials"}}}},
        "/me": {"get": {"tags": ["auth"], "security": [{"BearerAuth": []}], "summary": "Current profile", "responses": {"200": {"description": "OK"}}}},
        "/service-requests": {
            "get": {"tags": ["service-requests"], "summary": "List service requests, or get one by id", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad filter"}, "404": {"description": "Not found"}}},
            "post": {"tags": ["service-requests"], "summary": "Post a service request", "responses": {"200": {"description": "OK"}, "400": {"description": "Validation failed"}, "429": {"description": "Rate limited"}}},
            "put": {"tags": ["service-requests"], "summary": "Change request status or assign a provider", "responses": {"200": {"description": "OK"}, "400": {"description": "Invalid transition"}, "401": {"description": "Authentication required"}, "404": {"description": "Not found"}}},
            "delete": {"tags": ["service-requests"], "security": [{"BearerAuth": []}], "summary": "Delete a service request", "responses": {"200": {"description": "OK"}, "401": {"description": "Not allowed"}, "404": {"description": "Not found"}}}
        },
        "/service-requests/{id}/claim": {"post": {"tags": ["service-requests"], "security": [{"BearerAuth": []}], "summary": "Claim an open request", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "400": {"description": "Closed or claimed"}, "404": {"description": "Not found"}}}},
        "/service-requests/{id}/history": {"get": {"tags": ["service-requests"], "summary": "Audit trail of a request", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}}},
        "/stats/live": {"get": {"tags": ["stats"], "summary": "Live marketplace counters", "responses": {"200": {"description": "OK"}}}},
        "/services": {
            "get": {"tags": ["services"], "security": [{"BearerAuth": []}], "summary": "List my services, or get one by id", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["services"], "security": [{"BearerAuth": []}], "summary": "Create service", "responses": {"201": {"description": "Created"}, "400": {"description": "Validation failed"}}},
            "put": {"tags": ["services"], "security": [{"BearerAuth": []}], "summary": "Update service", "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}},
            "delete": {"tags": ["services"], "security": [{"BearerAuth": []}], "summary": "Delete service", "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}}
        },
        "/customers": {
            "get": {"tags": ["customers"], "security": [{"BearerAuth": []}], "summary": "List my customers, or get one by id", "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}},
            "post": {"tags": ["customers"], "security": [{"BearerAuth": []}], "summary": "Add a customer", "responses": {"201": {"description": "Created"}, "400": {"description": "Validation failed"}}},
            "put": {"tags": ["customers"], "security": [{"BearerAuth": []}], "summary": "Update customer", "responses": {"200": {"description": "OK"}, "400": {"description": "Validation failed"}, "404": {"description": "Not found"}}},
            "delete": {"tags": ["customers"], "security": [{"BearerAuth": []}], "summary": "Delete customer", "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}}
        },
        "/reviews-system": {
            "get": {"tags": ["reviews"], "summary": "List reviews of a service", "responses": {"200": {"description": "OK"}, "400": {"description": "Invalid service id"}, "404": {"description": "Service not found"}}},
            "post": {"tags": ["reviews"], "security": [{"BearerAuth": []}], "summary": "Review a service", "responses": {"201": {"description": "Created"}, "400": {"description": "Validation failed or duplicate"}}}
        },
        "/reviews-system/{id}": {
            "get": {"tags": ["reviews"], "summary": "Get one review", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}},
            "put": {"tags": ["reviews"], "security": [{"BearerAuth": []}], "summary": "Edit your review", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "403": {"description": "Not the reviewer"}}},
            "delete": {"tags": ["reviews"], "security": [{"BearerAuth": []}], "summary": "Delete your review", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "403": {"description": "Not the reviewer"}}}
        },
        "/reviews-system/{id}/helpful": {"post": {"tags": ["reviews"], "security": [{"BearerAuth": []}], "summary": "Mark a review helpful", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "400": {"description": "Already voted"}}}},
        "/reviews-system/{id}/response": {"post": {"tags": ["reviews"], "security": [{"BearerAuth": []}], "summary": "Respond to a review of your service", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "400": {"description": "Invalid or already responded"}, "403": {"description": "Not the service owner"}}}},
        "/transactions": {
            "get": {"tags": ["transactions"], "security": [{"BearerAuth": []}], "summary": "List my transactions, or get one by id", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["transactions"], "security": [{"BearerAuth": []}], "summary": "Record a transaction", "responses": {"201": {"description": "Created"}, "400": {"description": "Validation failed"}}}
        },
        "/payments/mobile-money/callback": {"post": {"tags": ["payments"], "summary": "Mobile-money result callback", "parameters": [{"type": "string", "name": "X-Callback-Secret", "in": "header", "required": true}], "responses": {"200": {"description": "Acknowledged"}, "401": {"description": "Bad secret"}}}}
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Format: Bearer <token>",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{"http"},
	Title:            "Weka Services Marketplace API",
	Description:      "Customers post service requests, providers claim and complete them, reviews build trust.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
