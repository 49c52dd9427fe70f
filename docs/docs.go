// Package docs is generated by swag from the handler annotations
// (swag init -g cmd/server/main.go). Regenerate after changing them.
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
        "/auth/register": {
            "post": {
                "tags": ["Auth"], "summary": "Register an account", "operationId": "register",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.RegisterRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.AuthResponse"}},
                    "400": {"description": "Validation failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Email already registered", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Auth"], "summary": "Log in", "operationId": "login",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.LoginRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.AuthResponse"}},
                    "401": {"description": "Invalid email or password", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/auth/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Auth"], "summary": "Current user", "operationId": "me", "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.User"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/budgets": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Budgets"], "summary": "List budgets (filtered, paginated)", "operationId": "listBudgets", "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "If-None-Match", "in": "header"},
                    {"type": "string", "name": "q", "in": "query"},
                    {"type": "string", "name": "status", "in": "query"},
                    {"type": "string", "name": "client", "in": "query"},
                    {"type": "number", "name": "minAmount", "in": "query"},
                    {"type": "number", "name": "maxAmount", "in": "query"},
                    {"type": "string", "name": "fromDate", "in": "query"},
                    {"type": "string", "name": "toDate", "in": "query"},
                    {"type": "integer", "default": 1, "minimum": 1, "name": "page", "in": "query"},
                    {"type": "integer", "default": 10, "minimum": 1, "maximum": 100, "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListBudgetsResponse"}, "headers": {"ETag": {"type": "string"}}},
                    "304": {"description": "Not Modified"}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Budgets"], "summary": "Create a budget", "operationId": "createBudget",
                "consumes": ["application/json", "multipart/form-data"], "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "Idempotency-Key", "in": "header"},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.BudgetRequest"}}
                ],
                "responses": {
                    "200": {"description": "Replayed", "schema": {"$ref": "#/definitions/domain.Budget"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Budget"}},
                    "400": {"description": "Validation failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "413": {"description": "File too large", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "415": {"description": "Unsupported file type", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/budgets/summary": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Budgets"], "summary": "Summarize budgets by status", "operationId": "summarizeBudgets", "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "q", "in": "query"},
                    {"type": "string", "name": "status", "in": "query"},
                    {"type": "string", "name": "client", "in": "query"},
                    {"type": "number", "name": "minAmount", "in": "query"},
                    {"type": "number", "name": "maxAmount", "in": "query"},
                    {"type": "string", "name": "fromDate", "in": "query"},
                    {"type": "string", "name": "toDate", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SummaryResponse"}}}
            }
        },
        "/budgets/export": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Budgets"], "summary": "Export budgets as XLSX", "operationId": "exportBudgets",
                "produces": ["application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"],
                "parameters": [
                    {"type": "string", "name": "q", "in": "query"},
                    {"type": "string", "name": "status", "in": "query"},
                    {"type": "string", "name": "client", "in": "query"},
                    {"type": "number", "name": "minAmount", "in": "query"},
                    {"type": "number", "name": "maxAmount", "in": "query"},
                    {"type": "string", "name": "fromDate", "in": "query"},
                    {"type": "string", "name": "toDate", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"type": "file"}}}
            }
        },
        "/budgets/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Budgets"], "summary": "Get a budget", "operationId": "getBudget", "produces": ["application/json"],
                "parameters": [{"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Budget"}},
                    "404": {"description": "Budget not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["Budgets"], "summary": "Update a budget", "operationId": "updateBudget",
                "consumes": ["application/json", "multipart/form-data"], "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.BudgetRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Budget"}},
                    "403": {"description": "Not owner", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Budget not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Budgets"], "summary": "Delete a budget", "operationId": "deleteBudget",
                "parameters": [{"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "403": {"description": "Not owner", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/budgets/{id}/pdf": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Budgets"], "summary": "Render a budget as PDF", "operationId": "budgetPDF", "produces": ["application/pdf"],
                "parameters": [{"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"type": "file"}}}
            }
        },
        "/budgets/{id}/email": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Budgets"], "summary": "E-mail a budget", "operationId": "emailBudget", "consumes": ["application/json"],
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.EmailRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "502": {"description": "Mail relay failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/users": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Users"], "summary": "List users", "operationId": "listUsers", "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.UsersResponse"}}}
            }
        },
        "/users/{id}/role": {
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["Users"], "summary": "Change a user's role", "operationId": "updateUserRole",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.RoleRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.User"}}}
            }
        },
        "/users/{id}": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Users"], "summary": "Delete a user", "operationId": "deleteUser",
                "parameters": [{"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true}],
                "responses": {"204": {"description": "No Content"}}
            }
        }
    },
    "definitions": {
        "domain.Attachment": {
            "type": "object",
            "properties": {
                "originalName": {"type": "string"}, "filename": {"type": "string"},
                "mimeType": {"type": "string"}, "size": {"type": "integer"}, "url": {"type": "string"}
            }
        },
        "domain.Budget": {
            "type": "object",
            "properties": {
                "id": {"type": "string"}, "identifier": {"type": "integer"}, "owner": {"type": "string"},
                "title": {"type": "string"}, "client": {"type": "string"}, "description": {"type": "string"},
                "amount": {"type": "number"}, "status": {"type": "string", "enum": ["pending", "approved", "rejected"]},
                "createdAt": {"type": "string"}, "updatedAt": {"type": "string"},
                "attachment": {"$ref": "#/definitions/domain.Attachment"}
            }
        },
        "domain.User": {
            "type": "object",
            "properties": {
                "id": {"type": "string"}, "email": {"type": "string"}, "name": {"type": "string"},
                "role": {"type": "string", "enum": ["user", "admin"]},
                "createdAt": {"type": "string"}, "updatedAt": {"type": "string"}
            }
        },
        "services.FieldError": {
            "type": "object",
            "properties": {"field": {"type": "string"}, "message": {"type": "string"}}
        },
        "services.StatusSummary": {
            "type": "object",
            "properties": {"status": {"type": "string"}, "count": {"type": "integer"}, "totalAmount": {"type": "number"}}
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"}, "code": {"type": "string"}, "message": {"type": "string"},
                "errors": {"type": "array", "items": {"$ref": "#/definitions/services.FieldError"}}
            }
        },
        "handlers.BudgetRequest": {
            "type": "object",
            "properties": {
                "title": {"type": "string"}, "client": {"type": "string"}, "description": {"type": "string"},
                "amount": {"type": "number"}, "status": {"type": "string", "enum": ["pending", "approved", "rejected"]},
                "removeFile": {"type": "boolean"}
            }
        },
        "handlers.EmailRequest": {
            "type": "object", "required": ["to"],
            "properties": {"to": {"type": "string"}}
        },
        "handlers.RegisterRequest": {
            "type": "object",
            "properties": {"email": {"type": "string"}, "password": {"type": "string"}, "name": {"type": "string"}}
        },
        "handlers.LoginRequest": {
            "type": "object", "required": ["email", "password"],
            "properties": {"email": {"type": "string"}, "password": {"type": "string"}}
        },
        "handlers.RoleRequest": {
            "type": "object", "required": ["role"],
            "properties": {"role": {"type": "string", "enum": ["user", "admin"]}}
        },
        "handlers.AuthResponse": {
            "type": "object",
            "properties": {"token": {"type": "string"}, "expiresAt": {"type": "string"}, "user": {"$ref": "#/definitions/domain.User"}}
        },
        "handlers.UsersResponse": {
            "type": "object",
            "properties": {"users": {"type": "array", "items": {"$ref": "#/definitions/domain.User"}}}
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {"totalDocs": {"type": "integer"}, "totalPages": {"type": "integer"}, "page": {"type": "integer"}, "limit": {"type": "integer"}}
        },
        "handlers.ListBudgetsResponse": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/domain.Budget"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        },
        "handlers.SummaryResponse": {
            "type": "object",
            "properties": {"summary": {"type": "array", "items": {"$ref": "#/definitions/services.StatusSummary"}}}
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Budget API",
	Description:      "Budgets with sequential identifiers, attachments, PDF/e-mail/XLSX output and user administration.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
