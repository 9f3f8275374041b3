package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/kisradar/internal/external/kis"
)

// tokenCmd groups token lifecycle operations.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "KIS 토큰 관리",
	Long: `KIS 액세스 토큰 상태 조회 및 재발급.

재발급은 23시간에 1회로 제한됩니다 (업스트림 1일 1회 제한).

Example:
  go run ./cmd/kisradar token status
  go run ./cmd/kisradar token refresh`,
}

var tokenStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "토큰 상태 조회",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		st := rt.session.Status()
		fmt.Printf("토큰 보유: %v\n", st.HasToken)
		fmt.Printf("유효: %v\n", st.IsValid)
		fmt.Printf("재발급 가능: %v\n", st.CanRefresh)
		if st.IssuedAt != nil {
			fmt.Printf("발급 시각: %s\n", st.IssuedAt.Format("2006-01-02 15:04:05"))
		}
		if st.ExpiresAt != nil {
			fmt.Printf("만료 시각: %s\n", st.ExpiresAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("남은 시간: %.1f시간\n", st.RemainingHours)
		return nil
	},
}

var tokenRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "토큰 재발급",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		_, err = rt.session.Refresh(context.Background())
		if err != nil {
			var qe *kis.QuotaError
			if errors.As(err, &qe) {
				fmt.Printf("재발급 불가: %.1f시간 후 가능 (마지막 발급 %s)\n",
					qe.Wait.Hours(), qe.LastIssued.Format("2006-01-02 15:04:05"))
				return nil
			}
			return err
		}

		fmt.Println("토큰 재발급 완료")
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenStatusCmd)
	tokenCmd.AddCommand(tokenRefreshCmd)
	rootCmd.AddCommand(tokenCmd)
}
