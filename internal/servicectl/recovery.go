package servicectl

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/pkg/browser"
)

// OpenInstructions renders manual-recovery instructions for the given
// failure in the user's browser. The wording distinguishes a missing
// artifact (installation problem, not retryable) from a readiness timeout
// (transient, retry suggested).
func OpenInstructions(failure *LifecycleError, logDir string) error {
	return browser.OpenReader(strings.NewReader(instructionsHTML(failure, logDir)))
}

func instructionsHTML(failure *LifecycleError, logDir string) string {
	title := "Covenantrix engine could not be started"
	var steps []string
	code := Code("")
	detail := ""
	if failure != nil {
		code = failure.Code
		detail = failure.Message
	}
	switch code {
	case CodeArtifactNotFound:
		steps = []string{
			"Reinstall Covenantrix so the bundled engine is restored.",
			"In development, build the engine first: <code>cd core-rag-service && pyinstaller covenantrix-engine.spec</code>.",
			"Or install Python 3 so the interpreter fallback can run <code>service_main.py</code>.",
		}
	case CodeReadinessTimeout:
		title = "Covenantrix engine started but never became reachable"
		steps = []string{
			"The engine may still be warming up; choose Retry in the recovery dialog.",
			fmt.Sprintf("Check the engine logs under <code>%s</code> for startup errors.", logDir),
			"Verify nothing else is occupying the engine port.",
		}
	case CodeUnexpectedExit:
		title = "Covenantrix engine stopped unexpectedly"
		steps = []string{
			fmt.Sprintf("Check the engine logs under <code>%s</code> for the crash reason.", logDir),
			"Choose Retry in the recovery dialog to relaunch the engine.",
		}
	default:
		steps = []string{
			fmt.Sprintf("Check the shell and engine logs under <code>%s</code>.", logDir),
			"Choose Retry in the recovery dialog.",
		}
	}

	var b strings.Builder
	b.WriteString("<html><head><meta charset=\"utf-8\"><title>")
	b.WriteString(title)
	b.WriteString("</title></head><body><h1>")
	b.WriteString(title)
	b.WriteString("</h1>")
	if detail != "" {
		b.WriteString("<p><em>")
		b.WriteString(detail)
		b.WriteString("</em></p>")
	}
	b.WriteString("<ol>")
	for _, s := range steps {
		b.WriteString("<li>")
		b.WriteString(s)
		b.WriteString("</li>")
	}
	b.WriteString("</ol></body></html>")
	return b.String()
}

// OpenLogsFolder opens the log directory in the platform file manager.
func OpenLogsFolder(logDir string) error {
	switch runtime.GOOS {
	case "windows":
		return exec.Command("explorer.exe", logDir).Start()
	case "darwin":
		return exec.Command("open", logDir).Start()
	default:
		return exec.Command("xdg-open", logDir).Start()
	}
}
