// chatrelay CLI - command line client for a chatrelay server
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eldtechnologies/chatrelay/clients/go/chatrelay"
)

var client *chatrelay.Client

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatrelay",
		Short: "Command line client for chatrelay",
		Long: `Command line client for chatrelay.

Environment:
  CHATRELAY_URL      Server URL (default: http://localhost:8080)
  CHATRELAY_CONFIG   Config directory (default: ~/.chatrelay)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			client = chatrelay.NewClient(os.Getenv("CHATRELAY_URL"))
		},
	}

	rootCmd.AddCommand(
		signupCmd(),
		loginCmd(),
		roomsCmd(),
		privateCmd(),
		groupCmd(),
		historyCmd(),
		sendCmd(),
		onlineCmd(),
		contactsCmd(),
		searchCmd(),
		listenCmd(),
		sayCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func signupCmd() *cobra.Command {
	var name, phone string
	cmd := &cobra.Command{
		Use:   "signup <username> <password>",
		Short: "Register a user and remember it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := client.Signup(args[0], name, phone, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s as user %d\n", user.Username, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number in E.164 format")
	return cmd
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <username|phone> <password>",
		Short: "Log in and remember the user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := client.Login(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Logged in as %s (%d)\n", user.Username, user.ID)
			return nil
		},
	}
}

func roomsCmd() *cobra.Command {
	var roomType string
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List your rooms, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			rooms, err := client.Rooms(roomType)
			if err != nil {
				return err
			}
			for _, r := range rooms {
				fmt.Printf("  %-6d %-8s %s (%d members)\n", r.ID, r.Type, r.Name, len(r.Participants))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&roomType, "type", "", "Filter by private or group")
	return cmd
}

func privateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "private <userId>",
		Short: "Open the private room with another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			other, err := parseID(args[0])
			if err != nil {
				return err
			}
			room, err := client.PrivateRoom(other)
			if err != nil {
				return err
			}
			printJSON(room)
			return nil
		},
	}
}

func groupCmd() *cobra.Command {
	var description string
	var members []string
	cmd := &cobra.Command{
		Use:   "group <name>",
		Short: "Create a group room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(members))
			for _, m := range members {
				id, err := parseID(m)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			result, err := client.CreateGroup(args[0], description, ids)
			if err != nil {
				return err
			}
			fmt.Printf("Created group %d\n", result.Room.ID)
			if len(result.SkippedIDs) > 0 {
				fmt.Printf("Skipped unknown users: %v\n", result.SkippedIDs)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Group description")
	cmd.Flags().StringSliceVar(&members, "members", nil, "Comma-separated user ids to add")
	return cmd
}

func historyCmd() *cobra.Command {
	var page, size int
	cmd := &cobra.Command{
		Use:   "history <roomId>",
		Short: "Show a page of a room's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID, err := parseID(args[0])
			if err != nil {
				return err
			}
			messages, err := client.Messages(roomID, page, size)
			if err != nil {
				return err
			}
			for _, m := range messages {
				from := strconv.FormatInt(m.SenderID, 10)
				if m.Sender != nil {
					from = m.Sender.Username
				}
				fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format("2006-01-02 15:04:05"), from, m.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "Page index, 0 is the newest")
	cmd.Flags().IntVar(&size, "size", 20, "Messages per page")
	return cmd
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <roomId> <message...>",
		Short: "Append a message to a room's history",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID, err := parseID(args[0])
			if err != nil {
				return err
			}
			msg, err := client.PostMessage(roomID, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Printf("Posted: %d\n", msg.ID)
			return nil
		},
	}
}

func onlineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "online",
		Short: "List online users",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := client.OnlineUsers()
			if err != nil {
				return err
			}
			fmt.Printf("%d online: %s\n", p.OnlineCount, strings.Join(p.OnlineUsers, ", "))
			return nil
		},
	}
}

func contactsCmd() *cobra.Command {
	var online bool
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "List your contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			contacts, err := client.Contacts(online)
			if err != nil {
				return err
			}
			printUsers(contacts)
			return nil
		},
	}
	cmd.Flags().BoolVar(&online, "online", false, "Only contacts that are online")

	cmd.AddCommand(&cobra.Command{
		Use:   "add <phone>",
		Short: "Add a contact by phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := client.AddContact(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Added %s (id %d)\n", user.Username, user.ID)
			return nil
		},
	}, &cobra.Command{
		Use:   "remove <userId>",
		Short: "Remove a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return client.RemoveContact(id)
		},
	})
	return cmd
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query...>",
		Short: "Find users by name or username",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := client.SearchUsers(strings.Join(args, " "))
			if err != nil {
				return err
			}
			printUsers(users)
			return nil
		},
	}
}

func printUsers(users []chatrelay.User) {
	for _, u := range users {
		status := "offline"
		if u.Online {
			status = "online"
		}
		fmt.Printf("  %-6d %-20s %-24s %s\n", u.ID, u.Username, u.Name, status)
	}
}

func listenCmd() *cobra.Command {
	var rooms []string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print live deliveries until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := client.Connect()
			if err != nil {
				return err
			}
			defer conn.Close()

			for _, r := range rooms {
				roomID, err := parseID(r)
				if err != nil {
					return err
				}
				if err := conn.Subscribe(roomID); err != nil {
					return err
				}
			}
			if err := conn.Online(); err != nil {
				return err
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-quit
				conn.Close()
			}()

			for {
				d, err := conn.Next()
				if err != nil {
					return nil
				}
				printDelivery(d)
			}
		},
	}
	cmd.Flags().StringSliceVar(&rooms, "rooms", nil, "Group room ids to subscribe to")
	return cmd
}

func sayCmd() *cobra.Command {
	var to string
	var room int64
	cmd := &cobra.Command{
		Use:   "say <message...>",
		Short: "Send a live message, public unless --to or --room is set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := client.Connect()
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.Say(strings.Join(args, " "), to, room); err != nil {
				return err
			}
			// Give the server a moment to route before the socket closes
			time.Sleep(200 * time.Millisecond)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Username for a private message")
	cmd.Flags().Int64Var(&room, "room", 0, "Group room id")
	return cmd
}

func printDelivery(d *chatrelay.Delivery) {
	switch {
	case d.Error != "":
		fmt.Fprintln(os.Stderr, "server:", d.Error)
	case d.Subscribed != "":
		fmt.Printf("* subscribed to %s\n", d.Subscribed)
	case d.OnlineCount != nil:
		fmt.Printf("* %s (%d online)\n", d.Content, *d.OnlineCount)
	default:
		scope := "public"
		if d.IsPrivate {
			scope = "private"
		} else if d.IsGroup && d.ChatRoomID != nil {
			scope = fmt.Sprintf("group %d", *d.ChatRoomID)
		}
		ts := time.UnixMilli(d.Timestamp).Format("15:04:05")
		fmt.Printf("[%s] (%s) %s: %s\n", ts, scope, d.Username, d.Content)
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
