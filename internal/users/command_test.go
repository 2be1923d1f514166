package users

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lremane/gitlab-2-forge-migration/internal/forgejo"
	"github.com/lremane/gitlab-2-forge-migration/internal/migration"
)

const testSourceUserConstant = `{"id":1,"username":"dave","name":"Dave","email":"dave@example.com","state":"active"}`

type recordingForges struct {
	mutex   sync.Mutex
	created []forgejo.CreateUserOption
}

func (forges *recordingForges) handler(testInstance *testing.T) http.Handler {
	return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		switch {
		case request.Method == http.MethodGet && request.URL.Path == "/api/v4/users":
			fmt.Fprint(responseWriter, "["+testSourceUserConstant+"]")
		case request.Method == http.MethodGet && request.URL.Path == "/api/v4/users/1":
			fmt.Fprint(responseWriter, testSourceUserConstant)
		case request.Method == http.MethodGet && (request.URL.Path == "/api/v4/users/1/keys" || request.URL.Path == "/api/v1/admin/users"):
			fmt.Fprint(responseWriter, "[]")
		case request.Method == http.MethodPost && request.URL.Path == "/api/v1/admin/users":
			var option forgejo.CreateUserOption
			require.NoError(testInstance, json.NewDecoder(request.Body).Decode(&option))
			forges.mutex.Lock()
			forges.created = append(forges.created, option)
			forges.mutex.Unlock()
			responseWriter.WriteHeader(http.StatusCreated)
			fmt.Fprintf(responseWriter, `{"id":500,"login":%q,"email":%q}`, option.Username, option.Email)
		default:
			responseWriter.WriteHeader(http.StatusNotFound)
		}
	})
}

func TestMigrateUsersCommandNotification(testInstance *testing.T) {
	testCases := []struct {
		name             string
		configuredNotify bool
		arguments        []string
		expectNotify     bool
	}{
		{name: "silent by default", expectNotify: false},
		{name: "configured notification", configuredNotify: true, expectNotify: true},
		{name: "flag enables notification", arguments: []string{"--notify"}, expectNotify: true},
		{name: "flag overrides configuration", configuredNotify: true, arguments: []string{"--notify=false"}, expectNotify: false},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			forges := &recordingForges{}
			server := httptest.NewServer(forges.handler(subTest))
			defer server.Close()

			configuration := migration.DefaultConfiguration()
			configuration.Source = migration.SourceConfiguration{BaseURL: server.URL, Token: "glpat-test"}
			configuration.Target = migration.TargetConfiguration{BaseURL: server.URL, Token: "forge-test"}
			configuration.Ledger.Path = filepath.Join(subTest.TempDir(), "ledger.db")
			configuration.Retry = migration.RetryConfiguration{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
			configuration.Users.Notify = testCase.configuredNotify

			builder := CommandBuilder{ConfigurationProvider: func() migration.Configuration { return configuration }}
			command, buildError := builder.Build()
			require.NoError(subTest, buildError)
			command.SetArgs(testCase.arguments)
			require.NoError(subTest, command.ExecuteContext(context.Background()))

			require.Len(subTest, forges.created, 1)
			require.Equal(subTest, "dave", forges.created[0].Username)
			require.Equal(subTest, testCase.expectNotify, forges.created[0].SendNotify)
		})
	}
}
