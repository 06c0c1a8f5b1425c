package engine

import "testing"

func TestValidateConfigPayloadAccepts(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"strips": [
			{"index": 0, "display_id": 1, "border": "Top", "len": 38, "led_type": "RGB"},
			{"index": 1, "display_id": 1, "border": "Right", "len": 30, "led_type": "RGBW"}
		]
	}`)
	if err := validateConfigPayload(payload); err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}
}

func TestValidateConfigPayloadAcceptsEmptyStrips(t *testing.T) {
	t.Parallel()

	if err := validateConfigPayload([]byte(`{"strips": []}`)); err != nil {
		t.Fatalf("expected empty strip list to validate, got %v", err)
	}
}

func TestValidateConfigPayloadRejectsMissingStrips(t *testing.T) {
	t.Parallel()

	if err := validateConfigPayload([]byte(`{}`)); err == nil {
		t.Fatalf("expected missing strips to fail validation")
	}
}

func TestValidateConfigPayloadRejectsBadBorder(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"strips": [
			{"index": 0, "display_id": 1, "border": "Diagonal", "len": 10}
		]
	}`)
	if err := validateConfigPayload(payload); err == nil {
		t.Fatalf("expected unknown border to fail validation")
	}
}

func TestValidateConfigPayloadRejectsMissingRequiredField(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"strips": [
			{"index": 0, "display_id": 1, "border": "Top"}
		]
	}`)
	if err := validateConfigPayload(payload); err == nil {
		t.Fatalf("expected missing len to fail validation")
	}
}

func TestValidateConfigPayloadRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	if err := validateConfigPayload([]byte(`{"strips": [`)); err == nil {
		t.Fatalf("expected malformed JSON to fail validation")
	}
}
