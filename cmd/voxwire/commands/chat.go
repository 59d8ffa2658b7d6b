package commands

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxwire/voxwire"
	"github.com/voxwire/voxwire/crypto"
	"github.com/voxwire/voxwire/messaging"
	"github.com/voxwire/voxwire/relay"
	"github.com/voxwire/voxwire/session"
)

var (
	serverAddr   string
	bundleURL    string
	useWebSocket bool
	selfAddress  string
	authToken    string
	identityHex  string
)

// chat: connect to a relay and exchange messages interactively.
func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Connect to a relay and chat",
		Long: `Connect to a relay server and exchange encrypted messages.

Type "<userID> <message>" to send; Ctrl-C to quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			self, err := crypto.ParsePeerAddress(selfAddress)
			if err != nil {
				return fmt.Errorf("invalid --address: %w", err)
			}

			options := voxwire.NewOptions()
			options.ServerAddr = serverAddr
			if useWebSocket {
				options.Transport = voxwire.TransportWebSocket
			}
			options.Credentials = relay.Credentials{Address: self, AuthToken: authToken}
			options.BundleFetcher = &httpBundleFetcher{base: bundleURL}

			if identityHex != "" {
				var priv [32]byte
				raw, err := hex.DecodeString(identityHex)
				if err != nil || len(raw) != 32 {
					return fmt.Errorf("invalid --identity: want 64 hex chars")
				}
				copy(priv[:], raw)
				options.IdentityKey, err = crypto.FromPrivateKey(priv)
				if err != nil {
					return err
				}
			}

			m, err := voxwire.New(options)
			if err != nil {
				return err
			}
			defer m.Shutdown()

			m.OnNewMessage(func(conv voxwire.Conversation, info messaging.MessageInfo) {
				if info.DecryptFailed {
					fmt.Printf("\r[%v] <could not decrypt message>\n> ", conv)
					return
				}
				fmt.Printf("\r[%v] %s\n> ", conv, info.Message)
			})
			m.OnMessageUpdate(func(conv voxwire.Conversation, info messaging.MessageInfo) {
				fmt.Printf("\r[%v] delivered: %s\n> ", conv, info.ID)
			})
			m.OnConnectionStatus(func(status voxwire.ConnectionStatus) {
				fmt.Printf("\rconnected=%v authenticated=%v\n> ", status.Connected, status.Authenticated)
			})

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = m.Connect(ctx)
			cancel()
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}

			go readInput(m)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			fmt.Println("\nbye")
			return nil
		},
	}

	cmd.Flags().StringVar(&serverAddr, "server", "", "relay server address")
	cmd.Flags().StringVar(&bundleURL, "bundles", "", "prekey bundle service base URL")
	cmd.Flags().BoolVar(&useWebSocket, "websocket", false, "use the WebSocket transport")
	cmd.Flags().StringVar(&selfAddress, "address", "", "own address as userID.deviceID")
	cmd.Flags().StringVar(&authToken, "token", "", "relay auth token")
	cmd.Flags().StringVar(&identityHex, "identity", "", "identity private key (hex, from keygen)")
	_ = cmd.MarkFlagRequired("server")
	_ = cmd.MarkFlagRequired("bundles")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func readInput(m *voxwire.Messenger) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		var userID uint64
		var text string
		if _, err := fmt.Sscanf(line, "%d %s", &userID, &text); err != nil {
			fmt.Println("usage: <userID> <message>")
			fmt.Print("> ")
			continue
		}
		if idx := strings.IndexByte(line, ' '); idx >= 0 {
			text = line[idx+1:]
		}
		if _, err := m.SendToUser(context.Background(), userID, text, 0); err != nil {
			fmt.Printf("send failed: %v\n", err)
		}
		fmt.Print("> ")
	}
}

// httpBundleFetcher resolves prekey bundles from a plain JSON endpoint:
// GET {base}/bundles/{userID.deviceID}.
type httpBundleFetcher struct {
	base string
}

func (f *httpBundleFetcher) FetchBundle(ctx context.Context, peer crypto.PeerAddress) (*session.PreKeyBundle, error) {
	url := fmt.Sprintf("%s/bundles/%s", strings.TrimRight(f.base, "/"), peer.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bundle fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bundle fetch failed: status %d", resp.StatusCode)
	}
	var bundle session.PreKeyBundle
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("malformed bundle response: %w", err)
	}
	return &bundle, nil
}
