package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/giantswarm/mcpgate/pkg/oauth"
)

const pkceRequestTimeout = 10 * time.Second

type pkceOptions struct {
	gateway     string
	clientID    string
	redirectURI string
	scope       string
	register    bool
}

func newPKCECmd() *cobra.Command {
	opts := &pkceOptions{}
	c := &cobra.Command{
		Use:   "pkce",
		Short: "Generate a PKCE verifier and an authorization URL",
		Long: `Generates a PKCE code verifier, its S256 challenge and a state value.

With --gateway, the gateway's discovery document is fetched and a ready to open
authorization URL is printed. --register first registers a public client.
After logging in, exchange the code from the redirect at the token endpoint
together with the printed code_verifier.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runPKCE(ctx, cmd.OutOrStdout(), opts, http.DefaultClient)
		},
	}
	c.Flags().StringVar(&opts.gateway, "gateway", "", "Gateway base URL (its OAuth issuer)")
	c.Flags().StringVar(&opts.clientID, "client-id", "", "Registered client ID")
	c.Flags().StringVar(&opts.redirectURI, "redirect-uri", "http://localhost:8765/callback", "Redirect URI of the client")
	c.Flags().StringVar(&opts.scope, "scope", "", "Space separated scopes to request")
	c.Flags().BoolVar(&opts.register, "register", false, "Register a new public client before building the URL")
	return c
}

func runPKCE(ctx context.Context, out io.Writer, opts *pkceOptions, httpClient *http.Client) error {
	pkce, err := oauth.GeneratePKCE()
	if err != nil {
		return err
	}
	state, err := oauth.GenerateState()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "code_verifier:         %s\n", pkce.CodeVerifier)
	fmt.Fprintf(out, "code_challenge:        %s\n", pkce.CodeChallenge)
	fmt.Fprintf(out, "code_challenge_method: %s\n", pkce.CodeChallengeMethod)
	fmt.Fprintf(out, "state:                 %s\n", state)

	if opts.gateway == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, pkceRequestTimeout)
	defer cancel()

	md, err := oauth.NewClient(oauth.WithHTTPClient(httpClient)).DiscoverMetadata(ctx, strings.TrimSuffix(opts.gateway, "/"))
	if err != nil {
		return fmt.Errorf("failed to discover gateway metadata: %w", err)
	}
	if !md.SupportsPKCE() {
		return fmt.Errorf("gateway %s does not advertise S256 PKCE", md.Issuer)
	}

	clientID := opts.clientID
	if opts.register {
		if md.RegistrationEndpoint == "" {
			return fmt.Errorf("gateway %s does not support client registration", md.Issuer)
		}
		clientID, err = registerPublicClient(ctx, httpClient, md.RegistrationEndpoint, opts.redirectURI)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "client_id:             %s\n", clientID)
	}
	if clientID == "" {
		return errors.New("--client-id or --register is required with --gateway")
	}

	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {clientID},
		"redirect_uri":          {opts.redirectURI},
		"code_challenge":        {pkce.CodeChallenge},
		"code_challenge_method": {pkce.CodeChallengeMethod},
		"state":                 {state},
	}
	if opts.scope != "" {
		q.Set("scope", opts.scope)
	}
	fmt.Fprintf(out, "\n%s\n%s?%s\n", text.Bold.Sprint("Open this URL in a browser:"), md.AuthorizationEndpoint, q.Encode())
	fmt.Fprintf(out, "\nThen exchange the returned code at %s with the code_verifier above.\n", md.TokenEndpoint)
	return nil
}

func registerPublicClient(ctx context.Context, httpClient *http.Client, endpoint, redirectURI string) (string, error) {
	body, err := json.Marshal(oauth.ClientMetadata{
		ClientName:              "mcpgate-cli",
		RedirectURIs:            []string{redirectURI},
		TokenEndpointAuthMethod: "none",
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to register client: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("client registration failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var creds struct {
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return "", fmt.Errorf("failed to decode registration response: %w", err)
	}
	return creds.ClientID, nil
}

func init() {
	rootCmd.AddCommand(newPKCECmd())
}
