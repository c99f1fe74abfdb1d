package tools

import "encoding/json"

type schemaDoc struct {
	Required []string `json:"required"`
}

func requiredKeys(schema string) ([]string, error) {
	var doc schemaDoc
	if err := json.Unmarshal([]byte(schema), &doc); err != nil {
		return nil, err
	}
	return doc.Required, nil
}
