package gemini

// Endpoints of the Gemini web frontend. None of these are a published API;
// they mirror what the browser itself talks to.
const (
	endpointGoogle   = "https://www.google.com"
	endpointInit     = "https://gemini.google.com/app"
	endpointGenerate = "https://gemini.google.com/_/BardChatUi/data/assistant.lamda.BardFrontendService/StreamGenerate"
	endpointRotate   = "https://accounts.google.com/RotateCookies"
	endpointUpload   = "https://content-push.googleapis.com/upload"
)

const (
	cookieSessionID = "__Secure-1PSID"
	cookieSessionTS = "__Secure-1PSIDTS"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	// uploadPushID is a fixed feed identifier the upload endpoint expects.
	uploadPushID = "feeds/mcudyrk2a4khkz"

	// modelHeaderName selects a model on StreamGenerate calls.
	modelHeaderName = "x-goog-ext-525001261-jspb"
)

// geminiHeaders are sent on every call to the gemini.google.com origin.
func geminiHeaders() map[string]string {
	return map[string]string{
		"Host":          "gemini.google.com",
		"Origin":        "https://gemini.google.com",
		"Referer":       "https://gemini.google.com/",
		"User-Agent":    userAgent,
		"X-Same-Domain": "1",
	}
}
