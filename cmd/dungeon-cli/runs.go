package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/yuqie6/DungeonMirror/internal/repository"
	"github.com/yuqie6/DungeonMirror/internal/service"
)

// runCmd 计时状态机
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "开始/完成/取消计时",
	}

	start := &cobra.Command{
		Use:   "start <character-id> <dungeon-id>",
		Short: "开始计时",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := ctxTimeout()
			defer cancel()
			stat, err := core.Services.Ledger.StartRun(ctx, args[0], args[1])
			if err != nil {
				fail("开始计时失败: %v", err)
			}
			fmt.Printf("⏱️  已开始计时 %s\n", formatMs(stat.StartTime))
		},
	}

	complete := &cobra.Command{
		Use:   "complete <character-id> <dungeon-id>",
		Short: "完成计时并写入记录",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := ctxTimeout()
			defer cancel()
			rec, err := core.Services.Ledger.CompleteRun(ctx, args[0], args[1])
			if err != nil {
				fail("完成计时失败: %v", err)
			}
			fmt.Printf("✅ %s 完成 %s，用时 %s（第 %d 周 / %d）\n   记录 ID: %d\n",
				rec.Character.Label(), rec.DungeonName, formatDuration(rec.Duration), rec.WeekNumber, rec.Year, rec.ID)
		},
	}

	cancelRun := &cobra.Command{
		Use:   "cancel <character-id> <dungeon-id>",
		Short: "取消计时（不产生记录）",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := ctxTimeout()
			defer cancel()
			if err := core.Services.Ledger.CancelRun(ctx, args[0], args[1]); err != nil {
				fail("取消计时失败: %v", err)
			}
			fmt.Println("🛑 已取消计时")
		},
	}

	cmd.AddCommand(start, complete, cancelRun)
	return cmd
}

// recordCmd 完成记录维护
func recordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "完成记录的查看与维护",
	}

	var date string
	list := &cobra.Command{
		Use:   "list",
		Short: "列出记录（含场次号）",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := ctxTimeout()
			defer cancel()
			rows, err := core.Services.Ledger.ListRecordRows(ctx)
			if err != nil {
				fail("读取记录失败: %v", err)
			}
			if date != "" {
				// 场次号按全量记录计算，过滤只影响展示
				start, end, err := repository.DayRange(date, core.Services.Ledger.Calendar().Location())
				if err != nil {
					fail("%v", err)
				}
				filtered := rows[:0]
				for _, r := range rows {
					if r.CompletedAt >= start && r.CompletedAt <= end {
						filtered = append(filtered, r)
					}
				}
				rows = filtered
			}
			if len(rows) == 0 {
				fmt.Println("📭 还没有完成记录")
				return
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\t完成时间\t角色\t副本\t用时\t角色场次\t总场次\t掉落")
			for _, r := range rows {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
					r.ID, formatMs(r.CompletedAt), r.Character.Label(), r.DungeonName,
					formatDuration(r.Duration), r.CharacterRun, r.TotalRun, len(r.Drops))
			}
			_ = tw.Flush()
		},
	}

	list.Flags().StringVar(&date, "date", "", "只显示某天的记录（YYYY-MM-DD）")

	var (
		characterID string
		dungeonName string
		at          string
		duration    time.Duration
		drops       []string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "手动补录一条记录",
		Run: func(cmd *cobra.Command, args []string) {
			completedAt, err := parseLocalTime(at)
			if err != nil {
				fail("%v", err)
			}
			ctx, cancel := ctxTimeout()
			defer cancel()
			rec, err := core.Services.Ledger.AddManualRecord(ctx, service.ManualRecordInput{
				CharacterID: characterID,
				DungeonName: dungeonName,
				CompletedAt: completedAt,
				Duration:    int64(duration.Seconds()),
				Drops:       drops,
			})
			if err != nil {
				fail("补录失败: %v", err)
			}
			fmt.Printf("✅ 已补录记录 %d\n", rec.ID)
		},
	}
	add.Flags().StringVar(&characterID, "character", "", "角色 ID")
	add.Flags().StringVar(&dungeonName, "dungeon", "", "副本名")
	add.Flags().StringVar(&at, "at", "", "完成时间，如 2026-03-10 21:30")
	add.Flags().DurationVar(&duration, "duration", 0, "用时，如 45m")
	add.Flags().StringSliceVar(&drops, "drop", nil, "掉落物（可重复）")
	_ = add.MarkFlagRequired("character")
	_ = add.MarkFlagRequired("dungeon")
	_ = add.MarkFlagRequired("at")

	del := &cobra.Command{
		Use:   "delete <record-id>",
		Short: "删除记录并重算统计",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := parseID(args[0])
			ctx, cancel := ctxTimeout()
			defer cancel()
			if err := core.Services.Ledger.DeleteRecord(ctx, id); err != nil {
				fail("删除失败: %v", err)
			}
			fmt.Printf("🗑️  已删除记录 %d\n", id)
		},
	}

	reassign := &cobra.Command{
		Use:   "reassign <record-id> <character-id>",
		Short: "把记录改挂到另一个角色",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			id := parseID(args[0])
			ctx, cancel := ctxTimeout()
			defer cancel()
			rec, err := core.Services.Ledger.ReassignRecord(ctx, id, args[1])
			if err != nil {
				fail("改挂失败: %v", err)
			}
			fmt.Printf("✅ 记录 %d 已改挂到 %s\n", rec.ID, rec.Character.Label())
		},
	}

	var editAt string
	var editDuration time.Duration
	edit := &cobra.Command{
		Use:   "edit <record-id>",
		Short: "修改完成时间或用时",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := parseID(args[0])
			var e service.RecordEdit
			if cmd.Flags().Changed("at") {
				t, err := parseLocalTime(editAt)
				if err != nil {
					fail("%v", err)
				}
				e.CompletedAt = &t
			}
			if cmd.Flags().Changed("duration") {
				d := int64(editDuration.Seconds())
				e.Duration = &d
			}
			ctx, cancel := ctxTimeout()
			defer cancel()
			rec, err := core.Services.Ledger.EditRecord(ctx, id, e)
			if err != nil {
				fail("修改失败: %v", err)
			}
			fmt.Printf("✅ 记录 %d 已更新（revision %d）\n", rec.ID, rec.Revision)
		},
	}
	edit.Flags().StringVar(&editAt, "at", "", "新的完成时间")
	edit.Flags().DurationVar(&editDuration, "duration", 0, "新的用时")

	var revision int
	var items []string
	dropsCmd := &cobra.Command{
		Use:   "drops <record-id>",
		Short: "回填掉落物（revision 不一致时拒绝）",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := parseID(args[0])
			ctx, cancel := ctxTimeout()
			defer cancel()
			rec, err := core.Services.Ledger.AttachDrops(ctx, id, revision, items)
			if err != nil {
				fail("回填掉落物失败: %v", err)
			}
			fmt.Printf("✅ 记录 %d 现有 %d 件掉落物\n", rec.ID, len(rec.Drops))
		},
	}
	dropsCmd.Flags().IntVar(&revision, "revision", 1, "读取记录时看到的 revision")
	dropsCmd.Flags().StringSliceVar(&items, "item", nil, "掉落物（可重复）")

	cmd.AddCommand(list, add, del, reassign, edit, dropsCmd)
	return cmd
}
