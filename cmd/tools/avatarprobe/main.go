package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/trauma-sim/backend/internal/config"
	avatarmodel "github.com/zhouzirui/trauma-sim/backend/internal/model/avatar"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/avatar"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/instructor"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/speech"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "", "测试模式: asr 或 avatar")
	audioPath := flag.String("audio", "", "ASR 输入音频文件路径")
	text := flag.String("text", "", "数字人朗读文本")
	role := flag.String("role", string(avatarmodel.RoleInstructor), "数字人角色: instructor 或 patient")
	timeout := flag.Duration("timeout", 90*time.Second, "整体超时时间")

	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "asr":
		runASR(ctx, cfg.Transcription, *audioPath)
	case "avatar":
		runAvatar(ctx, cfg.Avatar, avatarmodel.Role(*role), *text)
	default:
		flag.Usage()
		log.Fatal("请通过 -mode=asr 或 -mode=avatar 指定测试模式")
	}
}

func runASR(ctx context.Context, cfg config.TranscriptionConfig, audioPath string) {
	if !cfg.Enabled() {
		log.Fatal("转写服务未启用，请先配置 OPENAI_API_KEY")
	}
	if audioPath == "" {
		log.Fatal("ASR 模式需要通过 -audio 指定音频文件路径")
	}

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		log.Fatalf("读取音频文件失败: %v", err)
	}

	client, err := speech.NewClient(speech.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Language:   cfg.Language,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		log.Fatalf("创建转写客户端失败: %v", err)
	}

	log.Printf("开始进行 ASR 测试: file=%s format=%s bytes=%d", audioPath, speech.InferAudioFormat(audioPath), len(audio))

	text, err := client.Transcribe(ctx, audio, audioPath)
	if err != nil {
		log.Fatalf("ASR 调用失败 kind=%s: %v", speech.KindOf(err), err)
	}

	log.Printf("ASR 识别成功: text=%q", text)
}

// runAvatar 走一遍 create -> start -> task -> stop，全程复用同一个令牌。
func runAvatar(ctx context.Context, cfg config.AvatarConfig, role avatarmodel.Role, text string) {
	manager := avatar.NewManager(avatar.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Quality: cfg.Quality,
		Timeout: cfg.Timeout,
	})
	if !manager.Configured() {
		log.Fatal("数字人服务未启用，请先配置 HEYGEN_API_KEY")
	}

	opts := avatar.CreateOptions{AvatarID: cfg.InstructorAvatarID, VoiceID: cfg.InstructorVoiceID}
	if role == avatarmodel.RolePatient {
		opts = avatar.CreateOptions{AvatarID: cfg.PatientAvatarID, VoiceID: cfg.PatientVoiceID}
	}
	if strings.TrimSpace(text) == "" {
		text = "Primary survey first. Airway, breathing, circulation."
	}

	session, err := manager.CreateSession(ctx, opts)
	if err != nil {
		log.Fatalf("创建会话失败: %v", err)
	}
	log.Printf("会话已创建: session=%s url=%s", session.SessionID, session.URL)

	token := session.StreamingToken
	defer func() {
		outcome := manager.StopSession(context.Background(), session.SessionID, token)
		log.Printf("stop: status=%s reason=%s", outcome.Status, outcome.Reason)
	}()

	outcome := manager.StartSession(ctx, session.SessionID, token)
	log.Printf("start: status=%s reason=%s", outcome.Status, outcome.Reason)

	spoken := instructor.StripForSpeech(text)
	if err := manager.SendSpeechTask(ctx, session.SessionID, spoken, token, role.TaskType()); err != nil {
		log.Printf("task 调用失败: %v", err)
		return
	}
	log.Printf("task 已提交: type=%s text=%q", role.TaskType(), spoken)
}
