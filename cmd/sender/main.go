// Command sender acquires an access token from Microsoft Entra ID and calls
// the protected backend with it. Daemons supply a client secret and use the
// client-credentials grant; interactive use falls back to the device-code
// flow.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	tenantID := flag.String("tenant-id", os.Getenv("AZURE_TENANT_ID"), "Azure tenant ID")
	clientID := flag.String("client-id", os.Getenv("AZURE_CLIENT_ID"), "Azure client ID of the app registration")
	clientSecret := flag.String("client-secret", os.Getenv("AZURE_CLIENT_SECRET"), "client secret; omit to use the device-code flow")
	scope := flag.String("scope", envOr("API_SCOPE", "api://your-client-id/.default"), "API scope to request")
	endpoint := flag.String("endpoint", envOr("BACKEND_ENDPOINT", "http://localhost:8080/api/protected"), "backend endpoint URL")
	method := flag.String("method", "GET", "HTTP method (GET or POST)")
	flag.Parse()

	if *tenantID == "" || *clientID == "" {
		fmt.Fprintln(os.Stderr, "error: --tenant-id and --client-id are required (or AZURE_TENANT_ID / AZURE_CLIENT_ID)")
		os.Exit(1)
	}
	if *method != http.MethodGet && *method != http.MethodPost {
		fmt.Fprintf(os.Stderr, "error: unsupported method %q\n", *method)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	token, err := acquireToken(ctx, *tenantID, *clientID, *clientSecret, *scope)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error acquiring token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("token acquired")
	printClaimPreview(token)

	if err := sendRequest(ctx, *endpoint, *method, token); err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
}

func acquireToken(ctx context.Context, tenantID, clientID, clientSecret, scope string) (string, error) {
	base := "https://login.microsoftonline.com/" + tenantID
	if clientSecret != "" {
		cfg := clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     base + "/oauth2/v2.0/token",
			Scopes:       []string{scope},
		}
		tok, err := cfg.Token(ctx)
		if err != nil {
			return "", err
		}
		return tok.AccessToken, nil
	}

	// No secret: public-client device-code flow.
	cfg := oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:       base + "/oauth2/v2.0/authorize",
			TokenURL:      base + "/oauth2/v2.0/token",
			DeviceAuthURL: base + "/oauth2/v2.0/devicecode",
		},
		Scopes: []string{scope},
	}
	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return "", err
	}
	fmt.Printf("To sign in, visit %s and enter the code %s\n", da.VerificationURI, da.UserCode)
	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// printClaimPreview decodes the token without verification, purely for
// operator display; the backend does the real validation.
func printClaimPreview(token string) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		fmt.Printf("could not decode token for preview: %v\n", err)
		return
	}
	fmt.Println("claims preview:")
	for _, name := range []string{"iss", "aud", "sub", "upn", "preferred_username"} {
		if v, ok := claims[name]; ok {
			fmt.Printf("  %s: %v\n", name, v)
		}
	}
}

func sendRequest(ctx context.Context, endpoint, method, token string) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	fmt.Printf("response status: %s\n", resp.Status)
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var pretty map[string]any
	if json.Unmarshal(body, &pretty) == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Println(string(body))
	}
	return nil
}
