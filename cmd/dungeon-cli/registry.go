package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/yuqie6/DungeonMirror/internal/service"
)

// characterCmd 角色登记
func characterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "character",
		Short: "角色登记与查看",
	}

	var in service.CharacterInput
	bindCharacterFlags := func(c *cobra.Command) {
		c.Flags().StringVar(&in.Server, "server", "", "服务器")
		c.Flags().StringVar(&in.Name, "name", "", "角色名")
		c.Flags().StringVar(&in.School, "school", "", "门派")
		c.Flags().StringVar(&in.BodyType, "body", "", "体型")
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "登记角色",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := ctxTimeout()
			defer cancel()
			c, err := core.Services.Ledger.AddCharacter(ctx, in)
			if err != nil {
				fail("登记角色失败: %v", err)
			}
			fmt.Printf("✅ 已登记 %s\n   ID: %s\n", c.Snapshot().Label(), c.ID)
		},
	}
	bindCharacterFlags(add)

	update := &cobra.Command{
		Use:   "update <character-id>",
		Short: "修改角色字段（ID 不变）",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := ctxTimeout()
			defer cancel()
			c, err := core.Services.Ledger.UpdateCharacter(ctx, args[0], in)
			if err != nil {
				fail("修改角色失败: %v", err)
			}
			fmt.Printf("✅ 已更新 %s\n", c.Snapshot().Label())
		},
	}
	bindCharacterFlags(update)

	list := &cobra.Command{
		Use:   "list",
		Short: "列出角色",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := ctxTimeout()
			defer cancel()
			chars, err := core.Services.Ledger.ListCharacters(ctx)
			if err != nil {
				fail("读取角色失败: %v", err)
			}
			if len(chars) == 0 {
				fmt.Println("📭 还没有登记角色")
				return
			}
			for _, c := range chars {
				fmt.Printf("  • %s  %s\n", c.ID, c.Snapshot().Label())
			}
		},
	}

	cmd.AddCommand(add, update, list)
	return cmd
}

// dungeonCmd 副本登记
func dungeonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dungeon",
		Short: "副本登记与查看",
	}

	var category string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "登记副本（名称唯一）",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := ctxTimeout()
			defer cancel()
			d, err := core.Services.Ledger.AddDungeon(ctx, args[0], category)
			if err != nil {
				fail("登记副本失败: %v", err)
			}
			fmt.Printf("✅ 已登记副本 %s\n   ID: %s\n", d.Name, d.ID)
		},
	}
	add.Flags().StringVar(&category, "category", "", "分类 ID")

	list := &cobra.Command{
		Use:   "list",
		Short: "列出副本",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := ctxTimeout()
			defer cancel()
			ds, err := core.Services.Ledger.ListDungeons(ctx)
			if err != nil {
				fail("读取副本失败: %v", err)
			}
			if len(ds) == 0 {
				fmt.Println("📭 还没有登记副本")
				return
			}
			for _, d := range ds {
				fmt.Printf("  • %s  %s\n", d.ID, d.Name)
			}
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}
