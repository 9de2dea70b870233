package db

import (
	"testing"

	"chatrelay/internal/models"
)

func TestConnect_UnknownDriver(t *testing.T) {
	if _, err := Connect("mysql", "x"); err == nil {
		t.Fatal("Connect() expected error for unknown driver")
	}
}

func TestSeedRooms(t *testing.T) {
	gdb, err := Connect("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := Migrate(gdb); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if err := SeedRooms(gdb, []string{"general", "random"}); err != nil {
		t.Fatalf("SeedRooms() error = %v", err)
	}
	// 第二次不应重复创建
	if err := SeedRooms(gdb, []string{"other"}); err != nil {
		t.Fatalf("SeedRooms() second call error = %v", err)
	}

	var rooms []models.Room
	if err := gdb.Order("id").Find(&rooms).Error; err != nil {
		t.Fatalf("find rooms: %v", err)
	}
	if len(rooms) != 2 || rooms[0].Title != "general" || rooms[1].Title != "random" {
		t.Errorf("rooms = %+v, want general, random", rooms)
	}
}
