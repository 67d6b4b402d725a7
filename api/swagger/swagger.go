package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Commerce API",
        "description": "Classroom purchases, enrollments and grade book.",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {
            "name": "Payments",
            "description": "Checkout and payment confirmation"
        },
        {
            "name": "Enrollments",
            "description": "Student to classroom enrollments"
        },
        {
            "name": "Grades",
            "description": "Grade book and weighted averages"
        }
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Liveness check",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {
                        "description": "Ready"
                    },
                    "503": {
                        "description": "A dependency is down"
                    }
                }
            }
        },
        "/metrics": {
            "get": {
                "summary": "Prometheus metrics",
                "produces": [
                    "text/plain"
                ],
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/student/payments/checkout-session": {
            "post": {
                "tags": [
                    "Payments"
                ],
                "summary": "Start a classroom purchase",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CheckoutSessionRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/CheckoutSessionResponse"
                        }
                    },
                    "400": {
                        "description": "Invalid classroom",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "502": {
                        "description": "Provider unavailable",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/student/payments/confirm": {
            "get": {
                "tags": [
                    "Payments"
                ],
                "summary": "Confirm a checkout session and enroll",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "session_id",
                        "in": "query",
                        "type": "string",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ConfirmResponse"
                        }
                    },
                    "500": {
                        "description": "confirm_failed or enrollment_failed",
                        "schema": {
                            "$ref": "#/definitions/ConfirmResponse"
                        }
                    }
                }
            }
        },
        "/student/payments/orders/{id}/receipt": {
            "get": {
                "tags": [
                    "Payments"
                ],
                "summary": "Download the receipt of a paid order",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "integer",
                        "required": true
                    }
                ],
                "produces": [
                    "application/pdf"
                ],
                "responses": {
                    "200": {
                        "description": "PDF receipt"
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "412": {
                        "description": "Order not paid",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/payment/verify": {
            "get": {
                "tags": [
                    "Payments"
                ],
                "summary": "Verify a checkout session",
                "parameters": [
                    {
                        "name": "session_id",
                        "in": "query",
                        "type": "string",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/VerifyResponse"
                        }
                    }
                }
            }
        },
        "/api/payment/start": {
            "post": {
                "tags": [
                    "Payments"
                ],
                "summary": "Start a classroom purchase (query variant)",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "classroom_id",
                        "in": "query",
                        "type": "integer",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/CheckoutSessionResponse"
                        }
                    }
                }
            }
        },
        "/api/v1/enrollments": {
            "get": {
                "tags": [
                    "Enrollments"
                ],
                "summary": "List enrollments",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "studentId",
                        "in": "query",
                        "type": "integer",
                        "required": false
                    },
                    {
                        "name": "classroomId",
                        "in": "query",
                        "type": "integer",
                        "required": false
                    },
                    {
                        "name": "status",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "page",
                        "in": "query",
                        "type": "integer",
                        "required": false
                    },
                    {
                        "name": "limit",
                        "in": "query",
                        "type": "integer",
                        "required": false
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            },
            "post": {
                "tags": [
                    "Enrollments"
                ],
                "summary": "Enroll student",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/EnrollRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/enrollments/drop": {
            "post": {
                "tags": [
                    "Enrollments"
                ],
                "summary": "Drop a student's active enrollments",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/DropRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/enrollments/{id}/complete": {
            "post": {
                "tags": [
                    "Enrollments"
                ],
                "summary": "Mark an active enrollment completed",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "integer",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/classrooms/{id}/enrollments/drop": {
            "post": {
                "tags": [
                    "Enrollments"
                ],
                "summary": "Drop every active enrollment of a classroom",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "integer",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/enrollments/{id}/grades": {
            "get": {
                "tags": [
                    "Grades"
                ],
                "summary": "List grades of an enrollment",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "integer",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            },
            "post": {
                "tags": [
                    "Grades"
                ],
                "summary": "Add a grade to an enrollment",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "integer",
                        "required": true
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/GradeRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/enrollments/{id}/grades/average": {
            "get": {
                "tags": [
                    "Grades"
                ],
                "summary": "Weighted average percent of an enrollment",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "integer",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/enrollments/{id}/grades/export": {
            "get": {
                "tags": [
                    "Grades"
                ],
                "summary": "Export grades as CSV",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "integer",
                        "required": true
                    }
                ],
                "produces": [
                    "text/csv"
                ],
                "responses": {
                    "200": {
                        "description": "CSV file"
                    }
                }
            }
        },
        "/api/v1/grades/by-ids": {
            "post": {
                "tags": [
                    "Grades"
                ],
                "summary": "Add a grade by student and classroom",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/GradeByIDsRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/grades/average": {
            "get": {
                "tags": [
                    "Grades"
                ],
                "summary": "Weighted average percent by student and classroom",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "studentId",
                        "in": "query",
                        "type": "integer",
                        "required": true
                    },
                    {
                        "name": "classroomId",
                        "in": "query",
                        "type": "integer",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/grades/{id}": {
            "get": {
                "tags": [
                    "Grades"
                ],
                "summary": "Get grade",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "integer",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            },
            "patch": {
                "tags": [
                    "Grades"
                ],
                "summary": "Update grade fields",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "integer",
                        "required": true
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/GradePatchRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            },
            "delete": {
                "tags": [
                    "Grades"
                ],
                "summary": "Delete grade",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "integer",
                        "required": true
                    }
                ],
                "responses": {
                    "204": {
                        "description": "Deleted"
                    }
                }
            }
        }
    },
    "definitions": {
        "CheckoutSessionRequest": {
            "type": "object",
            "required": [
                "classroomId"
            ],
            "properties": {
                "classroomId": {
                    "type": "integer"
                }
            }
        },
        "CheckoutSessionResponse": {
            "type": "object",
            "properties": {
                "checkoutUrl": {
                    "type": "string"
                }
            }
        },
        "ConfirmResponse": {
            "type": "object",
            "properties": {
                "ok": {
                    "type": "boolean"
                },
                "status": {
                    "type": "string",
                    "enum": [
                        "paid",
                        "already_paid",
                        "not_paid"
                    ]
                },
                "error": {
                    "type": "string"
                }
            }
        },
        "VerifyResponse": {
            "type": "object",
            "properties": {
                "ok": {
                    "type": "boolean"
                },
                "orderId": {
                    "type": "integer"
                },
                "error": {
                    "type": "string"
                }
            }
        },
        "EnrollRequest": {
            "type": "object",
            "required": [
                "studentId",
                "classroomId"
            ],
            "properties": {
                "studentId": {
                    "type": "integer"
                },
                "classroomId": {
                    "type": "integer"
                }
            }
        },
        "DropRequest": {
            "type": "object",
            "required": [
                "studentId"
            ],
            "properties": {
                "studentId": {
                    "type": "integer"
                },
                "classroomId": {
                    "type": "integer"
                }
            }
        },
        "GradeRequest": {
            "type": "object",
            "required": [
                "component",
                "score",
                "maxScore"
            ],
            "properties": {
                "component": {
                    "type": "string",
                    "enum": [
                        "QUIZ",
                        "PROJECT",
                        "HOMEWORK",
                        "EXAM"
                    ]
                },
                "score": {
                    "type": "number"
                },
                "maxScore": {
                    "type": "number"
                },
                "gradedAt": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "GradeByIDsRequest": {
            "type": "object",
            "required": [
                "studentId",
                "classroomId",
                "component",
                "score",
                "maxScore"
            ],
            "properties": {
                "studentId": {
                    "type": "integer"
                },
                "classroomId": {
                    "type": "integer"
                },
                "component": {
                    "type": "string",
                    "enum": [
                        "QUIZ",
                        "PROJECT",
                        "HOMEWORK",
                        "EXAM"
                    ]
                },
                "score": {
                    "type": "number"
                },
                "maxScore": {
                    "type": "number"
                },
                "gradedAt": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "GradePatchRequest": {
            "type": "object",
            "properties": {
                "component": {
                    "type": "string",
                    "enum": [
                        "QUIZ",
                        "PROJECT",
                        "HOMEWORK",
                        "EXAM"
                    ]
                },
                "score": {
                    "type": "number"
                },
                "maxScore": {
                    "type": "number"
                },
                "gradedAt": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {
                    "type": "integer"
                },
                "page_size": {
                    "type": "integer"
                },
                "total_count": {
                    "type": "integer"
                }
            }
        },
        "FieldError": {
            "type": "object",
            "properties": {
                "field": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                },
                "status": {
                    "type": "integer"
                },
                "details": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/FieldError"
                    }
                }
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object"
                },
                "error": {
                    "$ref": "#/definitions/APIError"
                },
                "pagination": {
                    "$ref": "#/definitions/Pagination"
                },
                "meta": {
                    "type": "object"
                }
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
