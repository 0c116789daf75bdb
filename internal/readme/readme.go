// Package readme republishes the subscription document: one section per
// uploaded calendar with app-specific subscribe links and the direct
// download URL.
package readme

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	appLog "schedcal/internal/log"
)

// app describes one calendar application and how to build its
// subscription link. Placeholders in URLTemplate:
//
//	{url}   full download URL
//	{clean} download URL without the scheme
//	{name}  calendar name
type app struct {
	Name        string
	Icon        string
	Protocol    string // "https" renders a clickable link, else a copy block
	URLTemplate string
}

var calendarApps = []app{
	{
		Name:        "Google Calendar",
		Icon:        "📆",
		Protocol:    "https",
		URLTemplate: "https://calendar.google.com/calendar/r?cid=webcal://{clean}",
	},
	{
		Name:        "Apple Calendar",
		Icon:        "🍏",
		Protocol:    "webcal",
		URLTemplate: "webcal://{clean}",
	},
	{
		Name:        "Outlook",
		Icon:        "📧",
		Protocol:    "https",
		URLTemplate: "https://outlook.live.com/calendar/0/addfromweb?url={url}&name={name}",
	},
}

// Updater regenerates the README from the uploaded calendar links.
type Updater struct {
	path  string
	title string
	now   func() time.Time
}

// New builds an Updater writing to path with the given document title.
func New(path, title string) *Updater {
	return &Updater{path: path, title: title, now: time.Now}
}

// Update writes the full document. links maps calendar name to its
// direct-download URL; sections are emitted in name order.
func (u *Updater) Update(links map[string]string) error {
	appLog.Info("updating readme", "calendars", len(links), "path", u.path)

	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", u.title)
	b.WriteString("## 📅 Календари для подписки\n\n")
	b.WriteString("*Автоматически обновляемые iCalendar (.ics) файлы*\n\n")
	fmt.Fprintf(&b, "**🔄 Последнее обновление:** `%s`\n", u.now().UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "**📊 Количество календарей:** `%d`\n\n", len(links))
	b.WriteString("---\n\n")

	names := make([]string, 0, len(links))
	for name := range links {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		b.WriteString(calendarSection(name, links[name]))
		b.WriteString("\n\n---\n\n")
	}

	b.WriteString(setupGuide)

	if err := os.WriteFile(u.path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("readme: write %s: %w", u.path, err)
	}
	return nil
}

func calendarSection(name, downloadURL string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "### 📅 %s\n\n", name)
	b.WriteString("#### 🔗 Ссылки для подписки\n")
	b.WriteString(subscriptionLinks(name, downloadURL))
	b.WriteString("\n#### 📎 Дополнительные ссылки\n")
	fmt.Fprintf(&b, "📥 Прямая загрузка\n\n%s\n", encodeSpaces(downloadURL))

	return b.String()
}

func subscriptionLinks(name, downloadURL string) string {
	clean := strings.TrimPrefix(strings.TrimPrefix(downloadURL, "https://"), "http://")

	var b strings.Builder
	for _, a := range calendarApps {
		url := a.URLTemplate
		url = strings.ReplaceAll(url, "{url}", downloadURL)
		url = strings.ReplaceAll(url, "{clean}", clean)
		url = strings.ReplaceAll(url, "{name}", name)
		url = encodeSpaces(url)

		if a.Protocol == "https" || a.Protocol == "http" {
			fmt.Fprintf(&b, "[%s %s](%s)\n\n", a.Icon, a.Name, url)
		} else {
			// Protocol handlers like webcal:// do not work as markdown
			// links everywhere; show the URL for manual copy.
			fmt.Fprintf(&b, "%s %s\n\n`%s`\n\n", a.Icon, a.Name, url)
		}
	}
	return b.String()
}

func encodeSpaces(s string) string {
	return strings.ReplaceAll(s, " ", "%20")
}

const setupGuide = `## 🛠 Как подписаться

1. Выберите календарь и нажмите ссылку для своего приложения.
2. Либо скопируйте адрес ` + "`webcal://...`" + ` и добавьте подписку вручную.
3. Календарь обновится автоматически при следующем запуске пайплайна.

## ❓ Проблемы

Если события не обновляются, удалите подписку и добавьте её заново:
приложения кешируют подписные календари по-разному.
`
