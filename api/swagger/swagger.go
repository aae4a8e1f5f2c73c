package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Prime Exam API",
        "description": "Mock exam scoring and statistics platform",
        "version": "0.1.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Administrator sessions and student lookup"},
        {"name": "Exams", "description": "Exam catalog and official answer key"},
        {"name": "Students", "description": "Registrations and result views"},
        {"name": "Answers", "description": "Draft submissions and confirmation"},
        {"name": "Statistics", "description": "Cohort statistics and standings"},
        {"name": "Distribution", "description": "Per-problem answer distribution"},
        {"name": "Reports", "description": "Asynchronous report exports"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate administrator",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Refresh access token",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/verify": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Verify student registration",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/StudentVerifyRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Registration not found"}
                }
            }
        },
        "/exams": {
            "get": {
                "tags": ["Exams"],
                "summary": "List exam instances",
                "parameters": [
                    {"name": "year", "in": "query", "type": "integer"},
                    {"name": "type", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Exams"],
                "summary": "Create exam instance",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateExamRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exams/{id}": {
            "get": {
                "tags": ["Exams"],
                "summary": "Get exam detail",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exams/{id}/answers": {
            "put": {
                "tags": ["Exams"],
                "summary": "Upsert official answer key",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"type": "array", "items": {"$ref": "#/definitions/AnswerKeyEntry"}}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exams/{id}/answers/import": {
            "post": {
                "tags": ["Exams"],
                "summary": "Import answer key CSV",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "file", "in": "formData", "required": true, "type": "file"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exams/{id}/publish": {
            "post": {
                "tags": ["Exams"],
                "summary": "Publish official answers and rescore",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "202": {"description": "Accepted"}
                }
            }
        },
        "/exams/{id}/statistics": {
            "get": {
                "tags": ["Statistics"],
                "summary": "Cohort statistics of an exam",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exams/{id}/statistics/refresh": {
            "post": {
                "tags": ["Statistics"],
                "summary": "Recompute cohort statistics",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exams/{id}/ranks/refresh": {
            "post": {
                "tags": ["Statistics"],
                "summary": "Recompute standings for every student",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exams/{id}/distribution/rebuild": {
            "post": {
                "tags": ["Distribution"],
                "summary": "Rebuild answer distribution tallies",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/problems/{id}/distribution": {
            "get": {
                "tags": ["Distribution"],
                "summary": "Answer distribution of one problem",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students": {
            "get": {
                "tags": ["Students"],
                "summary": "List students",
                "parameters": [
                    {"name": "examId", "in": "query", "type": "string"},
                    {"name": "department", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Students"],
                "summary": "Register student",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterStudentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Serial already registered"}
                }
            }
        },
        "/students/{id}/result": {
            "get": {
                "tags": ["Students"],
                "summary": "Student result view",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/ranks": {
            "get": {
                "tags": ["Students"],
                "summary": "Student standings",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/answers": {
            "put": {
                "tags": ["Answers"],
                "summary": "Submit or replace a draft answer",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpsertAnswerRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Subject already confirmed"}
                }
            }
        },
        "/answers/confirm": {
            "post": {
                "tags": ["Answers"],
                "summary": "Confirm a subject's answers",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ConfirmSubjectRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Subject already confirmed"}
                }
            }
        },
        "/reports": {
            "post": {
                "tags": ["Reports"],
                "summary": "Queue a report job",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Report job status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/download/{token}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download a finished report",
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File"},
                    "403": {"description": "Invalid or expired token"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "StudentVerifyRequest": {
            "type": "object",
            "properties": {
                "exam_id": {"type": "string"},
                "serial": {"type": "string"},
                "name": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["exam_id", "serial", "name", "password"]
        },
        "CreateExamRequest": {
            "type": "object",
            "properties": {
                "year": {"type": "integer"},
                "round": {"type": "integer"},
                "exam_type": {"type": "string", "enum": ["psat", "leet", "prime"]},
                "label": {"type": "string"},
                "subjects": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/CreateExamSubject"}
                }
            },
            "required": ["year", "round", "exam_type", "label", "subjects"]
        },
        "CreateExamSubject": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "name": {"type": "string"},
                "problem_count": {"type": "integer"},
                "exclude_from_aggregate": {"type": "boolean"}
            },
            "required": ["code", "name", "problem_count"]
        },
        "AnswerKeyEntry": {
            "type": "object",
            "properties": {
                "subject_code": {"type": "string"},
                "number": {"type": "integer"},
                "answers": {"type": "array", "items": {"type": "integer"}}
            },
            "required": ["subject_code", "number", "answers"]
        },
        "RegisterStudentRequest": {
            "type": "object",
            "properties": {
                "exam_id": {"type": "string"},
                "serial": {"type": "string"},
                "name": {"type": "string"},
                "password": {"type": "string"},
                "department": {"type": "string"},
                "aspiration_1": {"type": "string"},
                "aspiration_2": {"type": "string"}
            },
            "required": ["exam_id", "serial", "name", "password"]
        },
        "UpsertAnswerRequest": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "problem_id": {"type": "string"},
                "chosen": {"type": "integer", "minimum": 0, "maximum": 5}
            },
            "required": ["student_id", "problem_id"]
        },
        "ConfirmSubjectRequest": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "subject_code": {"type": "string"}
            },
            "required": ["student_id", "subject_code"]
        },
        "ReportRequest": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["score_report", "statistics", "distribution"]},
                "exam_id": {"type": "string"},
                "student_id": {"type": "string"},
                "format": {"type": "string", "enum": ["csv", "pdf", "xlsx"]}
            },
            "required": ["type", "exam_id", "format"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
