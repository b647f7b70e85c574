// 从命令行注册接入服务的工具
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"regexp"

	"github.com/pu-ac-cn/cas-server/internal/config"
	"github.com/pu-ac-cn/cas-server/internal/database"
	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/pu-ac-cn/cas-server/internal/repository"
)

func main() {
	name := flag.String("name", "", "服务名称")
	serviceID := flag.String("service-id", "", "服务 URL 匹配模式（正则）")
	logoutType := flag.String("logout-type", "", "登出方式: NONE / BACK_CHANNEL / FRONT_CHANNEL（默认 BACK_CHANNEL）")
	logoutURL := flag.String("logout-url", "", "显式登出地址（可选）")
	allowProxy := flag.Bool("allow-proxy", false, "是否允许代理认证")
	order := flag.Int("order", 0, "匹配优先级，越小越先")
	flag.Parse()

	if *name == "" || *serviceID == "" {
		fmt.Println("用法: register-service -name <名称> -service-id <匹配模式> [-logout-type BACK_CHANNEL] [-logout-url <地址>] [-allow-proxy] [-order 0]")
		fmt.Println(`示例: register-service -name 门户 -service-id '^https://portal\.example\.com/.*'`)
		log.Fatal("缺少必填参数 -name 或 -service-id")
	}
	if _, err := regexp.Compile(*serviceID); err != nil {
		log.Fatalf("匹配模式不是合法正则: %v", err)
	}
	switch *logoutType {
	case "", model.LogoutTypeNone, model.LogoutTypeBackChannel, model.LogoutTypeFrontChannel:
	default:
		log.Fatalf("未知登出方式: %s", *logoutType)
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化数据库
	if err := database.Init(&cfg.Database); err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	repo := repository.NewRegisteredServiceRepository(database.GetDB())

	svc := &model.RegisteredService{
		Name:            *name,
		ServiceID:       *serviceID,
		LogoutType:      *logoutType,
		LogoutURL:       *logoutURL,
		AllowToProxy:    *allowProxy,
		EvaluationOrder: *order,
		Status:          model.StatusActive,
	}
	if err := repo.Create(ctx, svc); err != nil {
		log.Fatalf("注册服务失败: %v", err)
	}

	fmt.Printf("成功注册服务 %s (%s), ID=%s\n", svc.Name, svc.ServiceID, svc.ID)
}
