package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/oceanweave/cg2-isolator/pkg/cgroups2"
	"github.com/oceanweave/cg2-isolator/pkg/constant"
	"github.com/oceanweave/cg2-isolator/pkg/isolator/paths"
	"github.com/oceanweave/cg2-isolator/pkg/isolator/types"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

// rootFlag 所有子命令共用的根 cgroup 配置
var rootFlag = cli.StringFlag{
	Name:  "cgroups-root",
	Usage: "absolute path of the configured root cgroup",
	Value: constant.CgroupMountPoint + "/containers",
}

// CheckCommand 检查当前环境是否满足 isolator 的运行条件
var CheckCommand = cli.Command{
	Name:  "check",
	Usage: "Check that cgroup v2 is enabled and mounted at the standard location",
	Flags: []cli.Flag{rootFlag},
	Action: func(ctx *cli.Context) error {
		enabled, err := cgroups2.Enabled()
		if err != nil {
			return err
		}
		if !enabled {
			return fmt.Errorf("kernel does not support cgroup v2")
		}
		log.Info("cgroup v2 is supported by the kernel")

		mounted, err := cgroups2.Mounted()
		if err != nil {
			return err
		}
		if !mounted {
			return fmt.Errorf("cgroup2 file system is not mounted at %s", constant.CgroupMountPoint)
		}
		log.Infof("cgroup2 file system is mounted at %s", constant.CgroupMountPoint)

		root := ctx.String("cgroups-root")
		if !cgroups2.Exists(root) {
			return fmt.Errorf("root cgroup %s does not exist", root)
		}
		available, err := cgroups2.Controllers(root)
		if err != nil {
			return err
		}
		for name := range available {
			log.Infof("Controller %s is available in root cgroup %s", name, root)
		}
		return nil
	},
}

// TreeCommand 列出根 cgroup 下的容器
var TreeCommand = cli.Command{
	Name:  "tree",
	Usage: "List container cgroups under the configured root",
	Flags: []cli.Flag{rootFlag},
	Action: func(ctx *cli.Context) error {
		root := ctx.String("cgroups-root")
		return printTree(root, root)
	},
}

func printTree(root, dir string) error {
	children, err := cgroups2.Children(dir)
	if err != nil {
		return err
	}
	for _, child := range children {
		cgroup := dir + "/" + child
		if id, ok := paths.Parse(root, cgroup); ok {
			fmt.Println(id)
		}
		if child == constant.LeafCgroup {
			continue
		}
		if err := printTree(root, cgroup); err != nil {
			return err
		}
	}
	return nil
}

// DestroyCommand 手工销毁一个容器的 cgroup 子树，处理残留的孤儿
var DestroyCommand = cli.Command{
	Name:      "destroy",
	Usage:     "Destroy the cgroup subtree of a container, e.g. destroy parent/child",
	ArgsUsage: "<container id>",
	Flags:     []cli.Flag{rootFlag},
	Action: func(ctx *cli.Context) error {
		if len(ctx.Args()) < 1 {
			return fmt.Errorf("missing container id")
		}
		root := ctx.String("cgroups-root")
		id := types.ParseContainerID(ctx.Args().Get(0))

		cgroup := paths.Container(root, id, false)
		if !cgroups2.Exists(cgroup) {
			return fmt.Errorf("cgroup %s does not exist", cgroup)
		}

		destroyCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := cgroups2.Destroy(destroyCtx, cgroup); err != nil {
			return err
		}
		log.Infof("Destroyed cgroup %s", cgroup)
		return nil
	},
}
