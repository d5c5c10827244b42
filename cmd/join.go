package cmd

import (
	"context"
	"log/slog"
	"os"
	ossignal "os/signal"

	"github.com/spf13/cobra"

	"github.com/mentorloop/meetroom/internal/application/config"
	"github.com/mentorloop/meetroom/internal/application/constant"
	"github.com/mentorloop/meetroom/internal/auth"
	"github.com/mentorloop/meetroom/internal/domain/models"
	"github.com/mentorloop/meetroom/internal/media"
	"github.com/mentorloop/meetroom/internal/meetings"
	"github.com/mentorloop/meetroom/internal/session"
	"github.com/mentorloop/meetroom/internal/signal"
)

var (
	joinRoomID   string
	joinNickname string
	joinCreate   bool
	joinAuto     bool
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a meeting room as a headless participant",
	Run: func(cmd *cobra.Command, args []string) {
		runJoin()
	},
}

func init() {
	joinCmd.Flags().StringVar(&joinRoomID, "room", "", "room id to join")
	joinCmd.Flags().StringVar(&joinNickname, "nickname", "", "guest nickname (required without a session token)")
	joinCmd.Flags().BoolVar(&joinCreate, "create", false, "register the meeting before joining (host)")
	joinCmd.Flags().BoolVar(&joinAuto, "auto-admit", false, "admit every join request without prompting")
	joinCmd.MarkFlagRequired("room")

	rootCmd.AddCommand(joinCmd)
}

func runJoin() {
	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: slog.LevelInfo},
			),
		),
	)

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	identity := auth.ResolveIdentity(cfg.Client.SessionToken, cfg.JWTSecret, joinNickname)
	if !identity.Authenticated && identity.DisplayName == "" {
		slog.Error("a nickname is required without a session token")
		os.Exit(1)
	}

	directory := meetings.NewHTTPDirectory(cfg.Client.APIBaseURL, cfg.Client.SessionToken)

	if joinCreate {
		err := directory.CreateMeeting(ctx, models.Meeting{
			RoomID:  joinRoomID,
			Subject: "Mentorship session",
			Status:  "scheduled",
		})
		if err != nil {
			slog.Error("create meeting", slog.Any(constant.Error, err))
			os.Exit(1)
		}
	}

	transport := signal.NewClient(
		cfg.Client.RelayURL,
		signal.WithConnectTimeout(cfg.Client.ConnectTimeout),
		signal.WithReconnect(cfg.Client.ReconnectAttempts, cfg.Client.ReconnectBackoff),
	)
	defer transport.Close()

	source, err := media.NewSyntheticSource()
	if err != nil {
		slog.Error("create media source", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	ended := make(chan session.Destination, 1)

	var sess *session.Session

	sess = session.New(
		transport,
		directory,
		source,
		joinRoomID,
		identity,
		cfg.ICE.Servers(),
		cfg.Client.AdmissionTimeout,
		session.OnNotice(func(text string) {
			slog.Info(text)
		}),
		session.OnChat(func(msg models.ChatMessage) {
			slog.Info(
				"chat",
				slog.String("sender", msg.Sender),
				slog.String("text", msg.Text),
				slog.String("side", string(msg.Side)),
			)
		}),
		session.OnJoinRequest(func(req models.JoinRequest) {
			if !joinAuto {
				slog.Info(
					"join request pending; run with --auto-admit to admit automatically",
					slog.String(constant.UserName, req.Nickname),
				)
				return
			}

			if err := sess.Admit(); err != nil {
				slog.Error("admit", slog.Any(constant.Error, err))
			}
		}),
		session.OnEnded(func(dest session.Destination) {
			ended <- dest
		}),
	)

	if err := sess.Join(ctx); err != nil {
		slog.Error("join room", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	slog.Info(
		"in the room",
		slog.String(constant.RoomID, joinRoomID),
		slog.String(constant.SocketID, transport.ID()),
	)

	select {
	case <-ctx.Done():
		sess.Leave()
	case dest := <-ended:
		if dest == session.DestinationMeetingsList {
			slog.Info("meeting over, back to your meetings")
		} else {
			slog.Info("meeting over")
		}
	}
}
