package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/tim-br/diakonos/internal/ipc"
)

const watchTickInterval = 2 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of service states",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := tea.NewProgram(newWatchModel())
		_, err := p.Run()
		return err
	},
}

type watchTickMsg struct {
	services []ipc.ServiceEntry
	err      error
}

type watchModel struct {
	table table.Model
	err   error
}

func newWatchTable() table.Model {
	columns := []table.Column{
		{Title: "SERVICE", Width: 24},
		{Title: "STATE", Width: 12},
	}
	t := table.New(table.WithColumns(columns), table.WithFocused(false), table.WithHeight(15))

	style := table.DefaultStyles()
	style.Header = style.Header.Bold(true).BorderBottom(true)
	style.Selected = style.Selected.Foreground(lipgloss.Color("229"))
	t.SetStyles(style)
	return t
}

func newWatchModel() watchModel {
	return watchModel{table: newWatchTable()}
}

func fetchServices() tea.Msg {
	client, err := dial()
	if err != nil {
		return watchTickMsg{err: err}
	}
	defer client.Close()

	resp, err := client.Send(ipc.Request{Kind: ipc.ReqList})
	if err != nil {
		return watchTickMsg{err: err}
	}
	if resp.Kind == ipc.RespError {
		return watchTickMsg{err: fmt.Errorf("%s", resp.Message)}
	}

	services := resp.Services
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return watchTickMsg{services: services}
}

func tickAfter() tea.Cmd {
	return tea.Tick(watchTickInterval, func(time.Time) tea.Msg { return fetchServices() })
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(fetchServices, tickAfter())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case watchTickMsg:
		m.err = msg.err
		if msg.err == nil {
			rows := make([]table.Row, 0, len(msg.services))
			for _, s := range msg.services {
				rows = append(rows, table.Row{s.Name, string(s.State)})
			}
			m.table.SetRows(rows)
		}
		return m, tickAfter()
	}
	return m, nil
}

func (m watchModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("error: %v\n\npress q to quit\n", m.err)
	}
	if len(m.table.Rows()) == 0 {
		return "no services loaded\n\npress q to quit\n"
	}
	return m.table.View() + "\n\npress q to quit\n"
}
