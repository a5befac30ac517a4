// Package docs registers the OpenAPI document served under /swagger.
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
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "paths": {
        "/forms": {
            "get": {
                "produces": ["application/json"],
                "tags": ["forms"],
                "summary": "List questionnaires",
                "parameters": [
                    {"type": "boolean", "description": "Only published forms", "name": "published", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["forms"],
                "summary": "Create a questionnaire",
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}}
            }
        },
        "/forms/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["forms"],
                "summary": "Get a questionnaire with its fields",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["forms"],
                "summary": "Replace a questionnaire",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["forms"],
                "summary": "Delete a questionnaire",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/forms/{id}/publish": {
            "patch": {
                "security": [{"BearerAuth": []}],
                "tags": ["forms"],
                "summary": "Publish or unpublish a questionnaire",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/submissions": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["submissions"],
                "summary": "List submissions, newest first",
                "parameters": [{"type": "integer", "name": "limit", "in": "query"}],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "consumes": ["multipart/form-data", "application/json"],
                "produces": ["application/json"],
                "tags": ["submissions"],
                "summary": "Submit a questionnaire and receive a recommendation",
                "parameters": [
                    {"type": "string", "name": "formId", "in": "formData"},
                    {"type": "string", "name": "formTitle", "in": "formData"},
                    {"type": "string", "description": "JSON object of field id to value", "name": "data", "in": "formData"},
                    {"type": "file", "name": "productImage", "in": "formData"}
                ],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}, "429": {"description": "Too Many Requests"}}
            }
        },
        "/submissions/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["submissions"],
                "summary": "Get a submission with its answers and recommendation",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["submissions"],
                "summary": "Update status and record a final decision",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}
            }
        },
        "/analyze": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["analysis"],
                "summary": "Analyze a label to value map without storing it",
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            }
        },
        "/customer-result/{submissionId}": {
            "get": {
                "produces": ["application/json", "text/html"],
                "tags": ["analysis"],
                "summary": "Customer facing result of a submission",
                "parameters": [
                    {"type": "string", "name": "submissionId", "in": "path", "required": true},
                    {"type": "string", "enum": ["json", "html"], "name": "format", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/ai-reviews/pending": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["reviews"],
                "summary": "Submissions waiting for a reviewer",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/ai-reviews/{submissionId}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["reviews"],
                "summary": "Recommendation of a submission",
                "parameters": [{"type": "string", "name": "submissionId", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/ai-reviews/{submissionId}/decision": {
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "tags": ["reviews"],
                "summary": "Approve or override a recommendation",
                "parameters": [{"type": "string", "name": "submissionId", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}}
            }
        },
        "/admin/login": {
            "post": {
                "consumes": ["application/json"],
                "tags": ["admin"],
                "summary": "Exchange the admin password for a bearer token",
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/admin/stats": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["admin"],
                "summary": "Review and recommendation counts",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/admin/export.xlsx": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"],
                "tags": ["admin"],
                "summary": "Export every recommendation as a workbook",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/health": {
            "get": {
                "tags": ["system"],
                "summary": "Dependency health",
                "responses": {"200": {"description": "OK"}, "503": {"description": "Service Unavailable"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "Disposal Triage API",
	Description:      "Questionnaire intake, RECYCLE/REPAIR/REUSE/RETAIN recommendations and human review.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
