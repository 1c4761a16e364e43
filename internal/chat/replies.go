package chat

import (
	"fmt"
	"strings"

	"github.com/paulgrammer/surveyd/internal/jobs"
)

const dateExample = "Example: 'generate volume for 2026-02-10' or 'today mapping'"

const (
	ReplyEmpty          = "⚠️ Please type something!"
	ReplyNeedDate       = "⚠️ Please specify a date. " + dateExample
	ReplyAlreadyRunning = "⏳ Mapping already running... please wait."
	ReplyProcessing     = "⏳ Still Processing... please wait and try again."
	ReplyNotStarted     = "⚠️ No mapping started yet. Type 'generate mapping'."
	ReplyHelp           = "🤖 I can run drone mapping jobs for you.\n\n" +
		"• 'generate mapping for 2026-02-10' or 'today mapping' starts a job\n" +
		"• 'status' shows the progress and the final volume"
)

func startedReply(date, email, phone string) string {
	if email == "" {
		email = "Not provided"
	}
	if phone == "" {
		phone = "Not provided"
	}
	return fmt.Sprintf("🚀 Automated Mapping Initialized!\n\n"+
		"📅 Target Date: %s\n"+
		"📧 Notification: %s\n"+
		"📱 WhatsApp: %s\n\n"+
		"The Spatial Data Engine is now processing ODM imagery.\n"+
		"⏳ Please wait 5–10 minutes for volume calculation.\n\n"+
		"Type **status** anytime to check progress.", date, email, phone)
}

func (a *Assistant) completedReply(st jobs.Status) string {
	var b strings.Builder
	b.WriteString("✅ Mapping Completed Successfully!\n\n")
	if st.Volume != nil {
		fmt.Fprintf(&b, "📊 Final Volume: %.2f m³\n", *st.Volume)
	}
	if st.Simulated {
		b.WriteString("⚠️ Mapping tool unavailable, the volume is simulated.\n")
	}
	b.WriteString("\n🗺️ 3D Mapping Output Updated\n")
	b.WriteString("📍 Geo-tag Proof Image Updated\n\n")
	b.WriteString("⬇️ Download PDF:\n")
	b.WriteString(a.downloadURL)
	return b.String()
}
