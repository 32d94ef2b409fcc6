package shell

import "github.com/charmbracelet/lipgloss"

var (
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#BBEEFF"))
	atStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00AA00"))
	hostStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FFFF")).Background(lipgloss.Color("#444400"))
	poundStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00AA00"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	helpStyle    = lipgloss.NewStyle().Padding(0, 2)
)

func prompt(user, host string) string {
	return userStyle.Render(user) + atStyle.Render("@") + hostStyle.Render(host) + poundStyle.Render("# ")
}
