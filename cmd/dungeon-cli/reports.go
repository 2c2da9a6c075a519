package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/yuqie6/DungeonMirror/internal/service"
)

// statsCmd 当前统计
func statsCmd() *cobra.Command {
	var resync bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "查看本周与累计次数",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := ctxTimeout()
			defer cancel()

			if resync {
				res, err := core.Services.Ledger.Resync(ctx)
				if err != nil {
					fail("重算失败: %v", err)
				}
				fmt.Printf("🔄 重算完成：计入 %d 条，未解析 %d 条\n\n", res.Applied, len(res.Unresolved))
			}

			snap, err := core.Services.Ledger.Snapshot(ctx)
			if err != nil {
				fail("读取统计失败: %v", err)
			}

			fmt.Printf("📊 本游戏周自 %s 起（%s）\n", snap.WeekStart.Format("2006-01-02 15:04"), snap.Calendar)
			fmt.Println("═══════════════════════════════════════")
			if len(snap.Stats) == 0 {
				fmt.Println("📭 暂无统计")
			} else {
				tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
				fmt.Fprintln(tw, "角色\t副本\t本周\t累计\t累计用时\t最近完成\t状态")
				for _, s := range snap.Stats {
					state := "-"
					if s.InProgress {
						state = "进行中 " + formatMs(s.StartTime)
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
						s.Character.Label(), s.DungeonName, s.WeeklyCount, s.TotalCount,
						formatDuration(s.TotalDuration), formatMs(s.LastCompleted), state)
				}
				_ = tw.Flush()
			}

			if len(snap.Unresolved) > 0 {
				fmt.Printf("\n⚠️  %d 条记录无法计入统计\n", len(snap.Unresolved))
				for _, u := range snap.Unresolved {
					fmt.Printf("  • #%d %s %s: %s\n", u.RecordID, u.Character.Label(), u.DungeonName, u.Reason)
				}
			}
		},
	}

	cmd.Flags().BoolVar(&resync, "resync", false, "先从完成记录全量重算")
	return cmd
}

// reportCmd 周报/年报
func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "生成周报/年报",
	}

	var limit int
	week := &cobra.Command{
		Use:   "week",
		Short: "按游戏周汇总（最近的在前）",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := ctxTimeout()
			defer cancel()
			reps, err := core.Services.Reports.WeeklyReports(ctx, limit)
			if err != nil {
				fail("生成周报失败: %v", err)
			}
			printReports(reps)
		},
	}
	week.Flags().IntVarP(&limit, "limit", "n", 4, "最多输出的周数（0 表示全部）")

	year := &cobra.Command{
		Use:   "year",
		Short: "按自然年汇总",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := ctxTimeout()
			defer cancel()
			reps, err := core.Services.Reports.YearlyReports(ctx)
			if err != nil {
				fail("生成年报失败: %v", err)
			}
			printReports(reps)
		},
	}

	cmd.AddCommand(week, year)
	return cmd
}

func printReports(reps []service.WindowReport) {
	if len(reps) == 0 {
		fmt.Println("📭 还没有完成记录")
		return
	}
	for _, rep := range reps {
		fmt.Printf("\n📅 %s\n", rep.Window.Label())
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  总次数 %d，总用时 %s\n", rep.TotalRuns, formatDuration(rep.TotalDuration))
		if rep.TotalRuns == 0 {
			continue
		}
		if rep.MostActiveCharacter != nil {
			fmt.Printf("  🏆 最活跃角色：%s（%d 次）\n", rep.MostActiveCharacter.Character.Label(), rep.MostActiveCharacter.Total)
		}
		if rep.MostRunDungeon != nil {
			fmt.Printf("  🔥 最常刷副本：%s（%d 次）\n", rep.MostRunDungeon.DungeonName, rep.MostRunDungeon.Count)
		}
		for _, c := range rep.Characters {
			fmt.Printf("  • %s：%d 次\n", c.Character.Label(), c.Total)
			for _, d := range c.Dungeons {
				fmt.Printf("      - %s × %d\n", d.DungeonName, d.Count)
			}
		}
	}
}

// backupCmd 备份
func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "备份与恢复",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "创建备份",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := ctxTimeout()
			defer cancel()
			id, err := core.Services.Ledger.CreateBackup(ctx)
			if err != nil {
				fail("创建备份失败: %v", err)
			}
			fmt.Printf("💾 备份已创建: %s\n", id)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "列出备份",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := ctxTimeout()
			defer cancel()
			list, err := core.Services.Ledger.ListBackups(ctx)
			if err != nil {
				fail("读取备份失败: %v", err)
			}
			if len(list) == 0 {
				fmt.Println("📭 还没有备份")
				return
			}
			for _, b := range list {
				fmt.Printf("  • %s  %s  角色 %d / 副本 %d / 记录 %d\n",
					b.ID, time.UnixMilli(b.CreatedAt).Format("2006-01-02 15:04"), b.Characters, b.Dungeons, b.Records)
			}
		},
	}

	restore := &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "从备份恢复并重算统计",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := ctxTimeout()
			defer cancel()
			res, err := core.Services.Ledger.RestoreBackup(ctx, args[0])
			if err != nil {
				fail("恢复失败: %v", err)
			}
			fmt.Printf("✅ 已恢复，计入 %d 条记录\n", res.Applied)
		},
	}

	del := &cobra.Command{
		Use:   "delete <backup-id>",
		Short: "删除备份",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := ctxTimeout()
			defer cancel()
			if err := core.Services.Ledger.DeleteBackup(ctx, args[0]); err != nil {
				fail("删除备份失败: %v", err)
			}
			fmt.Printf("🗑️ 备份已删除: %s\n", args[0])
		},
	}

	cmd.AddCommand(create, list, restore, del)
	return cmd
}
