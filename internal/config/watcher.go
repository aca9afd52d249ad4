package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

// StartWatch 监听 Nacos 配置变化，在变更时回调 onChange(old, new)
// 未配置 Nacos 时跳过监听。赛道与存储配置变更需重启生效，回调里只应处理日志级别、开关与阈值
func StartWatch(ctx context.Context, onChange func(oldCfg, newCfg *Config)) error {
	if strings.TrimSpace(os.Getenv("NACOS_SERVER_ADDR")) == "" {
		fmt.Println("[Config] Nacos 未配置，跳过配置监听")
		return nil
	}

	p, err := nacosParamsFromEnv()
	if err != nil {
		return err
	}
	cli, err := p.client()
	if err != nil {
		return err
	}

	err = cli.ListenConfig(vo.ConfigParam{
		DataId: p.dataID,
		Group:  p.group,
		OnChange: func(namespace, group, dataId, data string) {
			fmt.Printf("[Config] Nacos 配置变更: namespace=%s, group=%s, dataId=%s\n", namespace, group, dataId)

			newCfg, parseErr := parse(filepath.Ext(dataId), []byte(data))
			if parseErr != nil {
				fmt.Printf("[Config] 解析 Nacos 配置失败: error=%v\n", parseErr)
				return
			}
			newCfg.ApplyDefaults()
			if err := newCfg.Validate(); err != nil {
				fmt.Printf("[Config] Nacos 配置校验失败，忽略本次变更: error=%v\n", err)
				return
			}

			oldCfg := GetCurrent()
			SetCurrent(newCfg)
			if onChange != nil {
				onChange(oldCfg, newCfg)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to listen nacos config: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = cli.CancelListenConfig(vo.ConfigParam{DataId: p.dataID, Group: p.group})
	}()

	fmt.Printf("[Config] Nacos 配置监听已启动: dataId=%s, namespace=%s, group=%s\n", p.dataID, p.namespace, p.group)
	return nil
}
