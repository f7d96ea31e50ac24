package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const bundleProperties = `
	"bundleId":    {"type": "string", "maxLength": 128},
	"title":       {"type": "string", "minLength": 1, "maxLength": 200},
	"instruction": {"type": "string", "minLength": 1},
	"urls":        {"type": "array", "items": {"type": "string", "minLength": 1}},
	"webSearch":   {"type": "boolean"},
	"channels": {
		"type": "object",
		"properties": {
			"kakao": {
				"type": "object",
				"properties": {"enabled": {"type": "boolean"}}
			},
			"telegram": {
				"type": "object",
				"properties": {
					"enabled":  {"type": "boolean"},
					"chatId":   {"type": "string"},
					"botToken": {"type": "string"}
				}
			}
		}
	}`

const timeOfDay = `{"type": "string", "pattern": "^([01][0-9]|2[0-3]):[0-5][0-9]$"}`

var (
	executeSchema = mustSchema(`{
	"type": "object",
	"required": ["title", "instruction"],
	"properties": {` + bundleProperties + `}
}`)

	scheduleSchema = mustSchema(`{
	"type": "object",
	"required": ["bundleId", "title", "instruction", "timingPolicy"],
	"properties": {` + bundleProperties + `,
		"timingPolicy": {
			"type": "object",
			"properties": {
				"intervalMinutes": {"type": "integer", "minimum": 1},
				"dailyAt":         ` + timeOfDay + `,
				"everyNDays":      {"type": "integer", "minimum": 1},
				"at":              ` + timeOfDay + `
			},
			"oneOf": [
				{"required": ["intervalMinutes"]},
				{"required": ["dailyAt"]},
				{"required": ["everyNDays", "at"]}
			]
		}
	}
}`)

	kakaoTokenSchema = mustSchema(`{
	"type": "object",
	"required": ["accessToken"],
	"properties": {
		"accessToken":  {"type": "string", "minLength": 1},
		"refreshToken": {"type": "string"},
		"expiresIn":    {"type": "integer", "minimum": 0}
	}
}`)

	telegramTestSchema = mustSchema(`{
	"type": "object",
	"required": ["chatId"],
	"properties": {
		"chatId":   {"type": "string", "minLength": 1},
		"botToken": {"type": "string"}
	}
}`)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compiling schema: %v", err))
	}
	return s
}

// validate checks a JSON document against schema and joins all violations
// into one error.
func validate(schema *gojsonschema.Schema, doc []byte) error {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New(strings.Join(msgs, "; "))
}
