package ai

import (
	"testing"
)

// TestNewLLMService tests service creation and defaulting.
func TestNewLLMService(t *testing.T) {
	tests := []struct {
		cfg  *LLMConfig
		name string
	}{
		{
			name: "DeepSeek config",
			cfg: &LLMConfig{
				Provider:    "deepseek",
				Model:       "deepseek-chat",
				APIKey:      "test-key",
				BaseURL:     "https://api.deepseek.com",
				MaxTokens:   2048,
				Temperature: 0.7,
				Timeout:     30,
			},
		},
		{
			name: "OpenAI config",
			cfg: &LLMConfig{
				Provider:    "openai",
				Model:       "gpt-4o-mini",
				APIKey:      "test-key",
				MaxTokens:   1024,
				Temperature: 0.5,
			},
		},
		{
			name: "zero values get defaults",
			cfg: &LLMConfig{
				Provider: "ollama",
				Model:    "llama3.1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, err := NewLLMService(tt.cfg)
			if err != nil {
				t.Fatalf("NewLLMService() error = %v", err)
			}

			impl, ok := service.(*llmService)
			if !ok {
				t.Fatalf("NewLLMService() returned unexpected type %T", service)
			}
			if impl.maxTokens <= 0 {
				t.Errorf("maxTokens not defaulted: %d", impl.maxTokens)
			}
			if impl.timeout <= 0 {
				t.Errorf("timeout not defaulted: %d", impl.timeout)
			}
			if impl.model != tt.cfg.Model {
				t.Errorf("model = %s, want %s", impl.model, tt.cfg.Model)
			}
		})
	}
}

// TestConvertMessages tests role mapping to the OpenAI wire roles.
func TestConvertMessages(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "You plan trips."},
		{Role: "user", Content: "Three days in taipei"},
		{Role: "assistant", Content: "Noted."},
		{Role: "something-else", Content: "Defaults to user."},
	}

	converted := convertMessages(messages)

	if len(converted) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(converted))
	}
	wantRoles := []string{"system", "user", "assistant", "user"}
	for i, want := range wantRoles {
		if converted[i].Role != want {
			t.Errorf("Message %d: role = %s, want %s", i, converted[i].Role, want)
		}
		if converted[i].Content != messages[i].Content {
			t.Errorf("Message %d: content changed", i)
		}
	}
}

func TestFormatMessages(t *testing.T) {
	history := []Message{
		UserMessage("Three days in taipei"),
		AssistantMessage("What pace do you prefer?"),
	}

	messages := FormatMessages("You plan trips.", "Relaxed, please", history)

	if len(messages) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(messages))
	}
	if messages[0].Role != "system" || messages[0].Content != "You plan trips." {
		t.Errorf("First message should be the system prompt, got %+v", messages[0])
	}
	if messages[3].Role != "user" || messages[3].Content != "Relaxed, please" {
		t.Errorf("Last message should be the current user content, got %+v", messages[3])
	}
}

func TestFormatMessagesWithoutSystemPrompt(t *testing.T) {
	messages := FormatMessages("", "hello", nil)

	if len(messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(messages))
	}
	if messages[0].Role != "user" {
		t.Errorf("Expected user role, got %s", messages[0].Role)
	}
}
