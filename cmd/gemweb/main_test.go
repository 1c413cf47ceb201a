package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/mzahmed/gemweb/pkg/models"
)

// resetFlags restores the flag globals after a test that sets them.
func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		flagFiles = nil
		flagYoutube = ""
		flagGenerateImg = ""
		flagEdit = ""
		flagOutput = ""
		flagAspect = ""
		flagShowThoughts = false
		flagModel = models.DefaultModel
		flagJSON = false
		flagTimeout = 0
		flagProxy = ""
		flagConfig = ""
		flagVerbose = false
		flagPreview = false
	})
	flagModel = models.DefaultModel
}

func TestBuildRequest_PlainQuery(t *testing.T) {
	resetFlags(t)

	req, outputPath, err := buildRequest([]string{"explain", "quantum", "computing"})
	if err != nil {
		t.Fatalf("buildRequest() error = %v", err)
	}
	if req.Prompt != "explain quantum computing" {
		t.Errorf("Prompt = %q", req.Prompt)
	}
	if req.WantImage {
		t.Error("plain query flagged as image request")
	}
	if outputPath != "" {
		t.Errorf("outputPath = %q, want empty for text query", outputPath)
	}
}

func TestBuildRequest_GenerateImagePromptShaping(t *testing.T) {
	resetFlags(t)
	flagGenerateImg = "sunset.png"
	flagAspect = "16:9"

	req, outputPath, err := buildRequest([]string{"a sunset"})
	if err != nil {
		t.Fatalf("buildRequest() error = %v", err)
	}
	if req.Prompt != "Generate an image: a sunset (aspect ratio: 16:9)" {
		t.Errorf("Prompt = %q", req.Prompt)
	}
	if !req.WantImage {
		t.Error("WantImage not set")
	}
	if outputPath != "sunset.png" {
		t.Errorf("outputPath = %q", outputPath)
	}
}

func TestBuildRequest_EditPromptNotPrefixed(t *testing.T) {
	resetFlags(t)
	imgPath := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(imgPath, []byte("jpg"), 0o644); err != nil {
		t.Fatal(err)
	}
	flagEdit = imgPath
	flagOutput = "edited.png"

	req, outputPath, err := buildRequest([]string{"make the sky purple"})
	if err != nil {
		t.Fatalf("buildRequest() error = %v", err)
	}
	// The generation prefix belongs to generate-image only; the edit shape
	// carries its own instruction wording.
	if strings.HasPrefix(req.Prompt, "Generate an image:") {
		t.Errorf("edit prompt wrongly prefixed: %q", req.Prompt)
	}
	if req.EditImage != imgPath {
		t.Errorf("EditImage = %q", req.EditImage)
	}
	if outputPath != "edited.png" {
		t.Errorf("outputPath = %q", outputPath)
	}
	if req.Operation() != models.OpEdit {
		t.Errorf("Operation() = %q", req.Operation())
	}
}

func TestBuildRequest_YoutubeAppendix(t *testing.T) {
	resetFlags(t)
	flagYoutube = "https://youtube.com/watch?v=abc"

	req, _, err := buildRequest([]string{"summarize this"})
	if err != nil {
		t.Fatalf("buildRequest() error = %v", err)
	}
	want := "summarize this\n\nYouTube video: https://youtube.com/watch?v=abc"
	if req.Prompt != want {
		t.Errorf("Prompt = %q, want %q", req.Prompt, want)
	}
}

func TestBuildRequest_DefaultOutputPath(t *testing.T) {
	resetFlags(t)
	imgPath := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(imgPath, []byte("jpg"), 0o644); err != nil {
		t.Fatal(err)
	}
	flagEdit = imgPath

	_, outputPath, err := buildRequest([]string{"brighten it"})
	if err != nil {
		t.Fatalf("buildRequest() error = %v", err)
	}
	if outputPath != "generated.png" {
		t.Errorf("outputPath = %q, want generated.png", outputPath)
	}
}

func TestBuildRequest_MissingFile(t *testing.T) {
	resetFlags(t)
	flagFiles = []string{filepath.Join(t.TempDir(), "absent.mp4")}

	if _, _, err := buildRequest([]string{"describe this"}); err == nil {
		t.Fatal("buildRequest() succeeded with a missing input file")
	}
}

func TestBuildRequest_MissingEditImage(t *testing.T) {
	resetFlags(t)
	flagEdit = filepath.Join(t.TempDir(), "absent.jpg")

	if _, _, err := buildRequest([]string{"edit it"}); err == nil {
		t.Fatal("buildRequest() succeeded with a missing edit image")
	}
}

func TestBuildRequest_RejectsBadOutputPath(t *testing.T) {
	resetFlags(t)
	flagGenerateImg = "con.png"

	if _, _, err := buildRequest([]string{"a picture"}); err == nil {
		t.Fatal("buildRequest() accepted a reserved output filename")
	}
}

func TestBuildRequest_EmptyPrompt(t *testing.T) {
	resetFlags(t)

	if _, _, err := buildRequest([]string{"   "}); err != models.ErrEmptyPrompt {
		t.Fatalf("buildRequest() error = %v, want ErrEmptyPrompt", err)
	}
}

func TestRenderJSON(t *testing.T) {
	var buf strings.Builder
	if err := renderJSON(&buf, "the answer", "because", 2); err != nil {
		t.Fatalf("renderJSON() error = %v", err)
	}

	var got struct {
		Text       string  `json:"text"`
		Thoughts   *string `json:"thoughts"`
		HasImages  bool    `json:"has_images"`
		ImageCount int     `json:"image_count"`
	}
	if err := json.Unmarshal([]byte(buf.String()), &got); err != nil {
		t.Fatalf("output not valid JSON: %v", err)
	}
	if got.Text != "the answer" {
		t.Errorf("text = %q", got.Text)
	}
	if got.Thoughts == nil || *got.Thoughts != "because" {
		t.Errorf("thoughts = %v", got.Thoughts)
	}
	if !got.HasImages || got.ImageCount != 2 {
		t.Errorf("has_images = %v, image_count = %d", got.HasImages, got.ImageCount)
	}
}

func TestRenderJSON_NullThoughts(t *testing.T) {
	var buf strings.Builder
	if err := renderJSON(&buf, "text only", "", 0); err != nil {
		t.Fatalf("renderJSON() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"thoughts": null`) {
		t.Errorf("thoughts should render as null when absent: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"has_images": false`) {
		t.Errorf("has_images should be false: %s", buf.String())
	}
}

func TestTruncatePrompt(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a rather long prompt that keeps going", 12, "a rather ..."},
		{"画像を生成してください、富士山の夕焼け", 10, "画像を生成して..."},
		{"日本語プロンプト", 8, "日本語プロンプト"},
	}

	for _, tt := range tests {
		got := truncatePrompt(tt.in, tt.max)
		if got != tt.want {
			t.Errorf("truncatePrompt(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncatePrompt(%q, %d) produced invalid UTF-8", tt.in, tt.max)
		}
	}
}
