package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"fulfillment-core/internal/core"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"
)

// classification is the structured output the model must produce.
type classification struct {
	NDRType    string  `json:"ndr_type" jsonschema:"enum=address_issue,enum=customer_unavailable,enum=refused,enum=payment_issue,enum=other" jsonschema_description:"The non-delivery category"`
	Confidence float64 `json:"confidence" jsonschema_description:"Confidence score between 0.0 and 1.0"`
	Reasoning  string  `json:"reasoning" jsonschema_description:"One sentence explaining the classification"`
}

// Classifier buckets carrier failure remarks into NDR types using a model.
// It satisfies core.ReasonClassifier; callers fall back to keyword matching
// when it errors.
type Classifier struct {
	client *openai.Client
}

func NewClassifier(apiKey string) *Classifier {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Classifier{client: &client}
}

func (c *Classifier) Classify(ctx context.Context, reason string) (string, error) {
	prompt := fmt.Sprintf(`You classify courier delivery-failure remarks for an Indian shipping platform.
Categories:
- address_issue: wrong, incomplete, or unfindable address
- customer_unavailable: customer absent, unreachable, premises closed
- refused: customer declined to accept the package
- payment_issue: COD cash not ready or payment dispute at the door
- other: anything else

Remark: %s`, reason)

	schemaJSON, err := json.Marshal(generateSchema())
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(schemaJSON, &schemaMap); err != nil {
		return "", fmt.Errorf("failed to unmarshal schema to map: %w", err)
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(shared.ChatModelGPT4oMini),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(prompt),
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Type:        constant.JSONSchema("json_schema"),
					Name:        "ndr_classification",
					Strict:      param.NewOpt(true),
					Schema:      schemaMap,
					Description: param.NewOpt("Classification of a delivery-failure remark"),
				},
			},
		},
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai responses error: %w", err)
	}
	content := resp.OutputText()
	if content == "" {
		return "", fmt.Errorf("empty response content")
	}

	var out classification
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return "", fmt.Errorf("failed to parse completion: %w", err)
	}
	switch out.NDRType {
	case core.NDRAddressIssue, core.NDRCustomerUnavailable, core.NDRRefused, core.NDRPaymentIssue, core.NDROther:
		return out.NDRType, nil
	}
	return "", fmt.Errorf("model returned unknown type %q", out.NDRType)
}

func generateSchema() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v classification
	return reflector.Reflect(v)
}
