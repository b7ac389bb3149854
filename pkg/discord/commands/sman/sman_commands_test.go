package sman

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/modbot/pkg/discord/commands/core"
	"github.com/small-frappuccino/modbot/pkg/settings"
	"github.com/small-frappuccino/modbot/pkg/storage"
)

const testGuild = "1001"

type recorder struct {
	mu        sync.Mutex
	responses []discordgo.InteractionResponse
	puts      []string
}

func (r *recorder) all() []discordgo.InteractionResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]discordgo.InteractionResponse, len(r.responses))
	copy(out, r.responses)
	return out
}

func (r *recorder) putPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.puts...)
	sort.Strings(out)
	return out
}

// newTestSession points discordgo at a local server that answers GET
// requests from routes, records interaction callbacks and permission PUTs.
func newTestSession(t *testing.T, routes map[string]any) (*discordgo.Session, *recorder) {
	t.Helper()
	rec := &recorder{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch {
		case strings.HasSuffix(r.URL.Path, "/callback"):
			var resp discordgo.InteractionResponse
			_ = json.Unmarshal(body, &resp)
			rec.mu.Lock()
			rec.responses = append(rec.responses, resp)
			rec.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPut:
			rec.mu.Lock()
			rec.puts = append(rec.puts, r.URL.Path)
			rec.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && routes[r.URL.Path] != nil:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(routes[r.URL.Path])
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(server.Close)

	oldAPI := discordgo.EndpointAPI
	oldGuilds := discordgo.EndpointGuilds
	oldChannels := discordgo.EndpointChannels
	discordgo.EndpointAPI = server.URL + "/"
	discordgo.EndpointGuilds = server.URL + "/guilds/"
	discordgo.EndpointChannels = server.URL + "/channels/"
	t.Cleanup(func() {
		discordgo.EndpointAPI = oldAPI
		discordgo.EndpointGuilds = oldGuilds
		discordgo.EndpointChannels = oldChannels
	})

	session, err := discordgo.New("Bot test-token")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return session, rec
}

func newSettingsStore(t *testing.T) *settings.Store {
	t.Helper()
	backend := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "settings.db"))
	if err := backend.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return settings.NewStore(backend, nil, settings.Options{})
}

func newRouter(t *testing.T, store *settings.Store, routes map[string]any) (*core.CommandRouter, *recorder) {
	t.Helper()
	session, rec := newTestSession(t, routes)
	router := core.NewCommandRouter(session, store)
	RegisterSettingsCommands(router)
	return router, rec
}

func sub(name string, options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:    name,
		Type:    discordgo.ApplicationCommandOptionSubCommand,
		Options: options,
	}
}

func group(name string, inner *discordgo.ApplicationCommandInteractionDataOption) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:    name,
		Type:    discordgo.ApplicationCommandOptionSubCommandGroup,
		Options: []*discordgo.ApplicationCommandInteractionDataOption{inner},
	}
}

func channelArg(id string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: "channel", Type: discordgo.ApplicationCommandOptionChannel, Value: id}
}

func roleArg(id string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: "role", Type: discordgo.ApplicationCommandOptionRole, Value: id}
}

func smanInteraction(admin bool, option *discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	member := &discordgo.Member{User: &discordgo.User{ID: "user"}}
	if admin {
		member.Permissions = discordgo.PermissionAdministrator
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:      "interaction-sman",
			AppID:   "app",
			Token:   "token",
			Type:    discordgo.InteractionApplicationCommand,
			GuildID: testGuild,
			Member:  member,
			Data: discordgo.ApplicationCommandInteractionData{
				ID:      "cmd-sman",
				Name:    "sman",
				Options: []*discordgo.ApplicationCommandInteractionDataOption{option},
			},
		},
	}
}

func onlyResponse(t *testing.T, rec *recorder) discordgo.InteractionResponse {
	t.Helper()
	responses := rec.all()
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}
	return responses[0]
}

func TestSmanSetAndDisableChannel(t *testing.T) {
	store := newSettingsStore(t)
	router, rec := newRouter(t, store, nil)

	router.HandleInteraction(nil, smanInteraction(true, group("channels", sub("moderation-log", channelArg("123")))))

	resp := onlyResponse(t, rec)
	if resp.Data.Content != "The moderation log channel has been set to <#123>" {
		t.Fatalf("unexpected content: %q", resp.Data.Content)
	}
	if resp.Data.Flags&discordgo.MessageFlagsEphemeral == 0 {
		t.Fatalf("expected ephemeral reply")
	}
	if v, ok := store.Get(context.Background(), 1001, settings.KeyModerationLogChannel); !ok || v != "123" {
		t.Fatalf("stored value = (%q, %v)", v, ok)
	}

	router.HandleInteraction(nil, smanInteraction(true, group("channels", sub("moderation-log"))))
	responses := rec.all()
	if got := responses[len(responses)-1].Data.Content; got != "The moderation log channel has been disabled." {
		t.Fatalf("unexpected content: %q", got)
	}
	if v, ok := store.Get(context.Background(), 1001, settings.KeyModerationLogChannel); ok {
		t.Fatalf("setting should be disabled, got %q", v)
	}
}

func TestSmanRoleSettings(t *testing.T) {
	store := newSettingsStore(t)
	router, rec := newRouter(t, store, nil)

	router.HandleInteraction(nil, smanInteraction(true, sub("flooder-role", roleArg("55"))))
	router.HandleInteraction(nil, smanInteraction(true, group("softban", sub("set-role", roleArg("66")))))
	router.HandleInteraction(nil, smanInteraction(true, group("tempvoice", sub("creator-channel", channelArg("77")))))

	responses := rec.all()
	want := []string{
		"The Flooder role has been set to <@&55>",
		"The softban role has been set to <@&66>",
		"The creator voice channel has been set to <#77>",
	}
	if len(responses) != len(want) {
		t.Fatalf("expected %d responses, got %d", len(want), len(responses))
	}
	for i, w := range want {
		if responses[i].Data.Content != w {
			t.Fatalf("response %d = %q, want %q", i, responses[i].Data.Content, w)
		}
	}
	if v, _ := store.Snowflake(context.Background(), 1001, settings.KeySoftbanRole); v != "66" {
		t.Fatalf("softban role = %q", v)
	}
}

func TestSmanRequiresAdministrator(t *testing.T) {
	store := newSettingsStore(t)
	router, rec := newRouter(t, store, nil)

	router.HandleInteraction(nil, smanInteraction(false, sub("flooder-role", roleArg("55"))))

	resp := onlyResponse(t, rec)
	if !strings.Contains(resp.Data.Content, "permission") {
		t.Fatalf("unexpected content: %q", resp.Data.Content)
	}
	if _, ok := store.Get(context.Background(), 1001, settings.KeyFlooderRole); ok {
		t.Fatalf("setting written without permission")
	}
}

func TestSmanShow(t *testing.T) {
	store := newSettingsStore(t)
	ctx := context.Background()
	if err := store.SetSnowflake(ctx, 1001, settings.KeyModerationLogChannel, "10"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.SetSnowflake(ctx, 1001, settings.KeySoftbanRole, "20"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	router, rec := newRouter(t, store, nil)

	router.HandleInteraction(nil, smanInteraction(true, sub("show")))

	resp := onlyResponse(t, rec)
	if len(resp.Data.Embeds) != 1 {
		t.Fatalf("expected one embed, got %d", len(resp.Data.Embeds))
	}
	fields := map[string]string{}
	for _, f := range resp.Data.Embeds[0].Fields {
		fields[f.Name] = f.Value
	}
	if len(fields) != len(settings.KnownKeys) {
		t.Fatalf("expected %d fields, got %d", len(settings.KnownKeys), len(fields))
	}
	if fields["moderation log channel"] != "<#10>" || fields["softban role"] != "<@&20>" || fields["Flooder role"] != "Disabled" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestSmanSoftbanSetupPermissions(t *testing.T) {
	store := newSettingsStore(t)
	if err := store.SetSnowflake(context.Background(), 1001, settings.KeySoftbanRole, "66"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	channels := []*discordgo.Channel{
		{ID: "1", Type: discordgo.ChannelTypeGuildCategory},
		{ID: "2", Type: discordgo.ChannelTypeGuildText, ParentID: "1"},
		{ID: "3", Type: discordgo.ChannelTypeGuildText, ParentID: "1", PermissionOverwrites: []*discordgo.PermissionOverwrite{{ID: "x"}}},
		{ID: "4", Type: discordgo.ChannelTypeGuildText},
	}
	router, rec := newRouter(t, store, map[string]any{"/guilds/" + testGuild + "/channels": channels})

	router.HandleInteraction(nil, smanInteraction(true, group("softban", sub("setup-permissions"))))

	resp := onlyResponse(t, rec)
	if resp.Data.Content != "Denied <@&66> from accessing all channels." {
		t.Fatalf("unexpected content: %q", resp.Data.Content)
	}
	want := []string{"/channels/1/permissions/66", "/channels/3/permissions/66", "/channels/4/permissions/66"}
	got := rec.putPaths()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("permission edits = %v, want %v", got, want)
	}
}

func TestSmanSoftbanSetupWithoutRole(t *testing.T) {
	router, rec := newRouter(t, newSettingsStore(t), nil)

	router.HandleInteraction(nil, smanInteraction(true, group("softban", sub("setup-permissions"))))

	resp := onlyResponse(t, rec)
	if !strings.Contains(resp.Data.Content, "not configured") {
		t.Fatalf("unexpected content: %q", resp.Data.Content)
	}
	if len(rec.putPaths()) != 0 {
		t.Fatalf("no permissions should be edited")
	}
}

type failingBackend struct{}

func (failingBackend) UpsertGuildSetting(context.Context, uint64, string, sql.NullString) error {
	return stderrors.New("database is locked")
}

func (failingBackend) GuildSetting(context.Context, uint64, string) (sql.NullString, bool, error) {
	return sql.NullString{}, false, stderrors.New("database is locked")
}

func TestSmanStorageFailureIsReported(t *testing.T) {
	store := settings.NewStore(failingBackend{}, nil, settings.Options{})
	router, rec := newRouter(t, store, nil)

	router.HandleInteraction(nil, smanInteraction(true, sub("flooder-role", roleArg("55"))))

	resp := onlyResponse(t, rec)
	if !strings.Contains(resp.Data.Content, "Failed to save the setting") {
		t.Fatalf("unexpected content: %q", resp.Data.Content)
	}
	if resp.Data.Flags&discordgo.MessageFlagsEphemeral == 0 {
		t.Fatalf("expected ephemeral error")
	}
}

func TestSmanCommandDefinition(t *testing.T) {
	session, _ := newTestSession(t, nil)
	router := core.NewCommandRouter(session, nil)
	RegisterSettingsCommands(router)

	cmd, ok := router.GetRegistry().GetCommand("sman")
	if !ok {
		t.Fatalf("sman not registered")
	}
	ac := core.ApplicationCommandFor(cmd)
	if ac.DefaultMemberPermissions == nil || *ac.DefaultMemberPermissions != discordgo.PermissionAdministrator {
		t.Fatalf("sman should default to administrators")
	}

	names := map[string]discordgo.ApplicationCommandOptionType{}
	for _, opt := range ac.Options {
		names[opt.Name] = opt.Type
	}
	for _, name := range []string{"channels", "tempvoice", "softban"} {
		if names[name] != discordgo.ApplicationCommandOptionSubCommandGroup {
			t.Fatalf("%s should be a subcommand group", name)
		}
	}
	for _, name := range []string{"flooder-role", "show"} {
		if names[name] != discordgo.ApplicationCommandOptionSubCommand {
			t.Fatalf("%s should be a subcommand", name)
		}
	}
}
