// Package adminui implements the interactive admin TUI using Bubble Tea.
package adminui

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/8gudbits/QuickServe/internal/adminapi"
)

// state represents the current screen in the admin UI.
type state int

const (
	stateLogin state = iota
	stateUsers
	stateNewUser
	stateEditUser
	stateSetPassword
	stateAllowlist
	stateLogs
)

// logKeep bounds how many streamed log lines the UI retains.
const logKeep = 500

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	helpStyle  = lipgloss.NewStyle().Faint(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Model holds all UI state for the admin TUI.
type Model struct {
	client *adminapi.Client
	addr   string

	st     state
	err    string
	width  int
	height int

	loginUser textinput.Model
	loginPass textinput.Model

	users   []adminapi.User
	userLst list.Model

	newUsername    textinput.Model
	newPassword    textinput.Model
	newIsAdmin     bool
	newCanUpload   bool
	newCanDownload bool
	newCanDelete   bool
	newCanPreview  bool

	edIsAdmin     bool
	edCanUpload   bool
	edCanDownload bool
	edCanDelete   bool
	edCanPreview  bool

	setPw textinput.Model

	allowEntries []adminapi.AllowEntry
	allowLst     list.Model
	allowCIDR    textinput.Model
	allowNote    textinput.Model

	logLines []string
	logCh    <-chan string
	logStop  func()
}

// New constructs a UI model and initializes inputs and lists.
func New(client *adminapi.Client, addr string) Model {
	user := textinput.New()
	user.Placeholder = "admin"
	user.Prompt = "Username: "
	user.Focus()

	pass := textinput.New()
	pass.Placeholder = "password"
	pass.EchoMode = textinput.EchoPassword
	pass.Prompt = "Password: "

	lst := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	lst.Title = "Users"

	allowLst := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	allowLst.Title = "Admin IP allowlist"

	m := Model{client: client, st: stateLogin, loginUser: user, loginPass: pass, userLst: lst, allowLst: allowLst}
	m.addr = redactAddr(addr)

	m.newUsername = textinput.New()
	m.newUsername.Placeholder = "username"
	m.newUsername.Prompt = "Username: "
	m.newPassword = textinput.New()
	m.newPassword.Placeholder = "password"
	m.newPassword.EchoMode = textinput.EchoPassword
	m.newPassword.Prompt = "Password: "

	m.setPw = textinput.New()
	m.setPw.Placeholder = "new password"
	m.setPw.EchoMode = textinput.EchoPassword
	m.setPw.Prompt = "New password: "

	m.allowCIDR = textinput.New()
	m.allowCIDR.Placeholder = "127.0.0.1 or 10.0.0.0/8"
	m.allowCIDR.Prompt = "CIDR/IP: "
	m.allowNote = textinput.New()
	m.allowNote.Placeholder = "optional"
	m.allowNote.Prompt = "Note: "

	return m
}

// Init returns the initial command for the Bubble Tea runtime.
func (m Model) Init() tea.Cmd {
	return nil
}

type errMsg string
type usersMsg []adminapi.User
type allowMsg []adminapi.AllowEntry
type okMsg struct{}

type logStartedMsg struct {
	ch   <-chan string
	stop func()
}
type logLineMsg string
type logClosedMsg struct{}

// Update routes messages based on UI state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.userLst.SetSize(msg.Width-4, msg.Height-8)
		m.allowLst.SetSize(msg.Width-4, msg.Height-12)
		return m, nil
	case errMsg:
		m.err = string(msg)
		return m, nil
	case usersMsg:
		m.users = []adminapi.User(msg)
		items := make([]list.Item, 0, len(m.users))
		for _, u := range m.users {
			items = append(items, userItem(u))
		}
		m.userLst.SetItems(items)
		m.err = ""
		return m, nil
	case allowMsg:
		m.allowEntries = []adminapi.AllowEntry(msg)
		items := make([]list.Item, 0, len(m.allowEntries))
		for _, e := range m.allowEntries {
			items = append(items, allowItem(e))
		}
		m.allowLst.SetItems(items)
		m.err = ""
		return m, nil
	case okMsg:
		m.err = ""
		if m.st == stateLogin {
			m.st = stateUsers
			return m, refreshUsersCmd(m.client)
		}
		return m, nil
	case logStartedMsg:
		m.logCh = msg.ch
		m.logStop = msg.stop
		m.logLines = m.logLines[:0]
		return m, waitLogCmd(msg.ch)
	case logLineMsg:
		m.logLines = append(m.logLines, string(msg))
		if len(m.logLines) > logKeep {
			m.logLines = m.logLines[len(m.logLines)-logKeep:]
		}
		return m, waitLogCmd(m.logCh)
	case logClosedMsg:
		m.logCh = nil
		return m, nil
	}

	switch m.st {
	case stateLogin:
		return m.updateLogin(msg)

	case stateUsers:
		var cmd tea.Cmd
		m.userLst, cmd = m.userLst.Update(msg)
		if k, ok := msg.(tea.KeyMsg); ok {
			switch k.String() {
			case "q", "ctrl+c":
				return m, tea.Quit
			case "r":
				return m, refreshUsersCmd(m.client)
			case "n":
				m.st = stateNewUser
				m.err = ""
				m.newUsername.SetValue("")
				m.newPassword.SetValue("")
				m.newIsAdmin = false
				m.newCanUpload = true
				m.newCanDownload = true
				m.newCanDelete = true
				m.newCanPreview = true
				m.newUsername.Focus()
				return m, nil
			case "e":
				u, ok := m.selectedUser()
				if !ok {
					return m, nil
				}
				m.st = stateEditUser
				m.err = ""
				m.edIsAdmin = u.IsAdmin
				m.edCanUpload = u.CanUpload
				m.edCanDownload = u.CanDownload
				m.edCanDelete = u.CanDelete
				m.edCanPreview = u.CanPreview
				return m, nil
			case "d":
				u, ok := m.selectedUser()
				if !ok {
					return m, nil
				}
				return m, tea.Batch(deleteUserCmd(m.client, u.ID), refreshUsersCmd(m.client))
			case "p":
				_, ok := m.selectedUser()
				if !ok {
					return m, nil
				}
				m.st = stateSetPassword
				m.err = ""
				m.setPw.SetValue("")
				m.setPw.Focus()
				return m, nil
			case "w":
				m.st = stateAllowlist
				m.err = ""
				m.allowCIDR.SetValue("")
				m.allowNote.SetValue("")
				m.allowCIDR.Focus()
				return m, refreshAllowlistCmd(m.client)
			case "l":
				m.st = stateLogs
				m.err = ""
				return m, startLogsCmd(m.client)
			}
		}
		return m, cmd

	case stateNewUser:
		return m.updateNewUser(msg)
	case stateEditUser:
		return m.updateEditUser(msg)
	case stateSetPassword:
		return m.updateSetPassword(msg)
	case stateAllowlist:
		return m.updateAllowlist(msg)
	case stateLogs:
		return m.updateLogs(msg)
	default:
		return m, nil
	}
}

// View renders the current screen as a string.
func (m Model) View() string {
	var b strings.Builder
	title := "QuickServe admin"
	if m.addr != "" {
		title += " (" + m.addr + ")"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	switch m.st {
	case stateLogin:
		b.WriteString("Login\n")
		b.WriteString(m.loginUser.View() + "\n")
		b.WriteString(m.loginPass.View() + "\n\n")
		b.WriteString(helpStyle.Render("tab=next field  enter=login  ctrl+c=quit") + "\n")
	case stateUsers:
		b.WriteString(m.userLst.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("n=new e=edit d=delete p=set-pass w=allowlist l=logs r=refresh q=quit") + "\n")
	case stateNewUser:
		b.WriteString("Create user\n\n")
		b.WriteString(m.newUsername.View() + "\n")
		b.WriteString(m.newPassword.View() + "\n")
		b.WriteString(fmt.Sprintf("Admin:    %v (toggle with alt+a)\n", m.newIsAdmin))
		b.WriteString(fmt.Sprintf("Upload:   %v (toggle with alt+u)\n", m.newCanUpload))
		b.WriteString(fmt.Sprintf("Download: %v (toggle with alt+d)\n", m.newCanDownload))
		b.WriteString(fmt.Sprintf("Delete:   %v (toggle with alt+x)\n", m.newCanDelete))
		b.WriteString(fmt.Sprintf("Preview:  %v (toggle with alt+p)\n\n", m.newCanPreview))
		b.WriteString(helpStyle.Render("enter=save  esc=back") + "\n")
	case stateEditUser:
		u, ok := m.selectedUser()
		if ok {
			b.WriteString("Edit user: " + u.Username + "\n\n")
		}
		b.WriteString(fmt.Sprintf("Admin:    %v (toggle with a)\n", m.edIsAdmin))
		b.WriteString(fmt.Sprintf("Upload:   %v (toggle with u)\n", m.edCanUpload))
		b.WriteString(fmt.Sprintf("Download: %v (toggle with d)\n", m.edCanDownload))
		b.WriteString(fmt.Sprintf("Delete:   %v (toggle with x)\n", m.edCanDelete))
		b.WriteString(fmt.Sprintf("Preview:  %v (toggle with p)\n\n", m.edCanPreview))
		b.WriteString(helpStyle.Render("enter=save  esc=back") + "\n")
	case stateSetPassword:
		u, ok := m.selectedUser()
		if ok {
			b.WriteString("Set password for: " + u.Username + "\n\n")
		}
		b.WriteString(m.setPw.View())
		b.WriteString("\n\n" + helpStyle.Render("enter=save  esc=back") + "\n")
	case stateAllowlist:
		b.WriteString("Admin IP allowlist\n\n")
		b.WriteString(m.allowLst.View())
		b.WriteString("\nAdd entry\n")
		b.WriteString(m.allowCIDR.View() + "\n")
		b.WriteString(m.allowNote.View() + "\n")
		b.WriteString("\n" + helpStyle.Render("alt+a=add  alt+d=delete selected  esc=back") + "\n")
	case stateLogs:
		b.WriteString("Server log\n\n")
		rows := m.height - 6
		if rows < 5 {
			rows = 5
		}
		lines := m.logLines
		if len(lines) > rows {
			lines = lines[len(lines)-rows:]
		}
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n\n" + helpStyle.Render("esc=back") + "\n")
	}

	if m.err != "" {
		b.WriteString("\n" + errStyle.Render("Error: "+m.err) + "\n")
	}

	return b.String()
}

type userItem adminapi.User

func (u userItem) Title() string {
	if u.IsAdmin {
		return u.Username + " (admin)"
	}
	return u.Username
}
func (u userItem) Description() string {
	return fmt.Sprintf(
		"upload=%v download=%v delete=%v preview=%v",
		u.CanUpload,
		u.CanDownload,
		u.CanDelete,
		u.CanPreview,
	)
}
func (u userItem) FilterValue() string { return u.Username }

type allowItem adminapi.AllowEntry

func (a allowItem) Title() string       { return a.CIDR }
func (a allowItem) Description() string { return a.Note }
func (a allowItem) FilterValue() string { return a.CIDR }

// selectedUser returns the currently highlighted user list entry.
func (m *Model) selectedUser() (adminapi.User, bool) {
	if m.userLst.SelectedItem() == nil {
		return adminapi.User{}, false
	}
	if it, ok := m.userLst.SelectedItem().(userItem); ok {
		return adminapi.User(it), true
	}
	return adminapi.User{}, false
}

func loginCmd(c *adminapi.Client, username, password string) tea.Cmd {
	return func() tea.Msg {
		if err := c.LoginAdmin(username, password); err != nil {
			return errMsg(err.Error())
		}
		return okMsg{}
	}
}

func refreshUsersCmd(c *adminapi.Client) tea.Cmd {
	return func() tea.Msg {
		users, err := c.ListUsers()
		if err != nil {
			return errMsg(err.Error())
		}
		return usersMsg(users)
	}
}

func deleteUserCmd(c *adminapi.Client, id int64) tea.Cmd {
	return func() tea.Msg {
		if err := c.DeleteUser(id); err != nil {
			return errMsg(err.Error())
		}
		return okMsg{}
	}
}

func refreshAllowlistCmd(c *adminapi.Client) tea.Cmd {
	return func() tea.Msg {
		entries, err := c.ListAllowlist()
		if err != nil {
			return errMsg(err.Error())
		}
		return allowMsg(entries)
	}
}

func addAllowCmd(c *adminapi.Client, cidr, note string) tea.Cmd {
	return func() tea.Msg {
		_, err := c.AddAllowlist(cidr, note)
		if err != nil {
			return errMsg(err.Error())
		}
		return okMsg{}
	}
}

func delAllowCmd(c *adminapi.Client, id int64) tea.Cmd {
	return func() tea.Msg {
		if err := c.DeleteAllowlist(id); err != nil {
			return errMsg(err.Error())
		}
		return okMsg{}
	}
}

func startLogsCmd(c *adminapi.Client) tea.Cmd {
	return func() tea.Msg {
		ch, stop, err := c.StreamLogs(context.Background())
		if err != nil {
			return errMsg(err.Error())
		}
		return logStartedMsg{ch: ch, stop: stop}
	}
}

// waitLogCmd delivers the next streamed line back into the update loop.
func waitLogCmd(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		line, ok := <-ch
		if !ok {
			return logClosedMsg{}
		}
		return logLineMsg(line)
	}
}

// updateLogin handles input on the login screen.
func (m Model) updateLogin(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "tab":
			if m.loginUser.Focused() {
				m.loginUser.Blur()
				m.loginPass.Focus()
			} else {
				m.loginPass.Blur()
				m.loginUser.Focus()
			}
			return m, nil
		case "enter":
			user := strings.TrimSpace(m.loginUser.Value())
			pw := m.loginPass.Value()
			m.loginPass.SetValue("")
			if user == "" {
				m.err = "username is required"
				return m, nil
			}
			return m, loginCmd(m.client, user, pw)
		}
	}

	var cmd tea.Cmd
	if m.loginUser.Focused() {
		m.loginUser, cmd = m.loginUser.Update(msg)
		return m, cmd
	}
	m.loginPass, cmd = m.loginPass.Update(msg)
	return m, cmd
}

// updateNewUser handles input while creating a new user.
func (m Model) updateNewUser(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "esc":
			m.st = stateUsers
			return m, refreshUsersCmd(m.client)
		case "alt+a":
			m.newIsAdmin = !m.newIsAdmin
			return m, nil
		case "alt+u":
			m.newCanUpload = !m.newCanUpload
			return m, nil
		case "alt+d":
			m.newCanDownload = !m.newCanDownload
			return m, nil
		case "alt+x":
			m.newCanDelete = !m.newCanDelete
			return m, nil
		case "alt+p":
			m.newCanPreview = !m.newCanPreview
			return m, nil
		case "enter":
			idCmd := func() tea.Cmd {
				return func() tea.Msg {
					_, err := m.client.CreateUser(
						m.newUsername.Value(),
						m.newPassword.Value(),
						m.newIsAdmin,
						m.newCanUpload,
						m.newCanDownload,
						m.newCanDelete,
						m.newCanPreview,
					)
					if err != nil {
						return errMsg(err.Error())
					}
					return okMsg{}
				}
			}()
			m.st = stateUsers
			return m, tea.Batch(idCmd, refreshUsersCmd(m.client))
		}
	}

	// Focus order: username -> password
	var cmd tea.Cmd
	if m.newUsername.Focused() {
		m.newUsername, cmd = m.newUsername.Update(msg)
		if km, ok := msg.(tea.KeyMsg); ok && km.String() == "tab" {
			m.newUsername.Blur()
			m.newPassword.Focus()
		}
		return m, cmd
	}
	m.newPassword, cmd = m.newPassword.Update(msg)
	if km, ok := msg.(tea.KeyMsg); ok && km.String() == "tab" {
		m.newPassword.Blur()
		m.newUsername.Focus()
	}
	return m, cmd
}

// updateEditUser handles input while editing a user's capabilities.
func (m Model) updateEditUser(msg tea.Msg) (tea.Model, tea.Cmd) {
	u, ok := m.selectedUser()
	if !ok {
		m.st = stateUsers
		return m, nil
	}
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "esc":
			m.st = stateUsers
			return m, refreshUsersCmd(m.client)
		case "a":
			m.edIsAdmin = !m.edIsAdmin
			return m, nil
		case "u":
			m.edCanUpload = !m.edCanUpload
			return m, nil
		case "d":
			m.edCanDownload = !m.edCanDownload
			return m, nil
		case "x":
			m.edCanDelete = !m.edCanDelete
			return m, nil
		case "p":
			m.edCanPreview = !m.edCanPreview
			return m, nil
		case "enter":
			patch := adminapi.UserPatch{
				IsAdmin:     &m.edIsAdmin,
				CanUpload:   &m.edCanUpload,
				CanDownload: &m.edCanDownload,
				CanDelete:   &m.edCanDelete,
				CanPreview:  &m.edCanPreview,
			}
			cmd := func() tea.Cmd {
				return func() tea.Msg {
					if _, err := m.client.UpdateUser(u.ID, patch); err != nil {
						return errMsg(err.Error())
					}
					return okMsg{}
				}
			}()
			m.st = stateUsers
			return m, tea.Batch(cmd, refreshUsersCmd(m.client))
		}
	}
	return m, nil
}

// updateSetPassword handles input while setting a user password.
func (m Model) updateSetPassword(msg tea.Msg) (tea.Model, tea.Cmd) {
	u, ok := m.selectedUser()
	if !ok {
		m.st = stateUsers
		return m, nil
	}
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "esc":
			m.st = stateUsers
			return m, nil
		case "enter":
			cmd := func() tea.Cmd {
				return func() tea.Msg {
					if err := m.client.SetUserPassword(u.ID, m.setPw.Value()); err != nil {
						return errMsg(err.Error())
					}
					return okMsg{}
				}
			}()
			m.st = stateUsers
			return m, tea.Batch(cmd, refreshUsersCmd(m.client))
		}
	}
	var cmd tea.Cmd
	m.setPw, cmd = m.setPw.Update(msg)
	return m, cmd
}

// updateAllowlist handles input on the admin allowlist screen.
func (m Model) updateAllowlist(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "esc":
			m.st = stateUsers
			return m, nil
		case "alt+a":
			cidr := strings.TrimSpace(m.allowCIDR.Value())
			note := strings.TrimSpace(m.allowNote.Value())
			m.allowCIDR.SetValue("")
			m.allowNote.SetValue("")
			m.allowCIDR.Focus()
			return m, tea.Batch(addAllowCmd(m.client, cidr, note), refreshAllowlistCmd(m.client))
		case "alt+d":
			if m.allowLst.SelectedItem() == nil {
				return m, nil
			}
			if it, ok := m.allowLst.SelectedItem().(allowItem); ok {
				e := adminapi.AllowEntry(it)
				return m, tea.Batch(delAllowCmd(m.client, e.ID), refreshAllowlistCmd(m.client))
			}
		}
	}

	var cmd tea.Cmd
	if m.allowCIDR.Focused() {
		m.allowCIDR, cmd = m.allowCIDR.Update(msg)
		if km, ok := msg.(tea.KeyMsg); ok && km.String() == "tab" {
			m.allowCIDR.Blur()
			m.allowNote.Focus()
		}
		return m, cmd
	}
	if m.allowNote.Focused() {
		m.allowNote, cmd = m.allowNote.Update(msg)
		if km, ok := msg.(tea.KeyMsg); ok && km.String() == "tab" {
			m.allowNote.Blur()
		}
		return m, cmd
	}
	m.allowLst, cmd = m.allowLst.Update(msg)
	return m, cmd
}

// updateLogs handles input on the live log screen.
func (m Model) updateLogs(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "esc", "q":
			if m.logStop != nil {
				m.logStop()
				m.logStop = nil
			}
			m.logCh = nil
			m.st = stateUsers
			return m, refreshUsersCmd(m.client)
		case "ctrl+c":
			if m.logStop != nil {
				m.logStop()
			}
			return m, tea.Quit
		}
	}
	return m, nil
}

func redactAddr(addr string) string {
	u, err := url.Parse(addr)
	if err != nil {
		return ""
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return u.Scheme + "://" + u.Host
}

// RequireInsecureByDefault reports whether addr points at a loopback
// host, where the self-signed setup certificate will not verify.
func RequireInsecureByDefault(addr string) bool {
	u, err := url.Parse(addr)
	if err != nil {
		return true
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
